package eventbus

// Event types published by the schedule controller and notifier.
const (
	ScheduleLoaded     = "schedule.loaded"
	ScheduleLoadFailed = "schedule.load_failed"
	ScheduleAdded      = "schedule.added"
	ScheduleRemoved    = "schedule.removed"
	ScheduleUpdated    = "schedule.updated"
	ScheduleCleared    = "schedule.cleared"
	ScheduleSaved      = "schedule.saved"
	ScheduleSaveFailed = "schedule.save_failed"

	ToastQueued  = "toast.queued"
	ToastShown   = "toast.shown"
	ToastDeduped = "toast.deduped"
	ToastDropped = "toast.dropped"
	ToastFailed  = "toast.failed"

	AutosaveTriggered = "autosave.triggered"
)

// Publish is a nil-safe helper for components holding an optional Bus.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Data: data})
}
