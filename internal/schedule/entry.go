package schedule

import (
	"encoding/json"
	"fmt"
)

const (
	ChannelPlaceholder  = "Select Channel"
	LocationPlaceholder = "Select Location"
)

// Field names one editable column of an Entry.
type Field string

const (
	FieldStartDate Field = "startDate"
	FieldEndDate   Field = "endDate"
	FieldChannel   Field = "channel"
	FieldLocation  Field = "location"
)

// Fields lists the editable columns in display order.
var Fields = []Field{FieldStartDate, FieldEndDate, FieldChannel, FieldLocation}

// Entry is one schedule row. Key is the row identity within a session.
type Entry struct {
	Key       int    `json:"key"`
	StartDate *Date  `json:"startDate,omitempty"`
	EndDate   *Date  `json:"endDate,omitempty"`
	Channel   string `json:"channel"`
	Location  string `json:"location"`
}

// NewEntry returns a blank row: no dates, placeholder channel and location.
func NewEntry(key int) Entry {
	return Entry{Key: key, Channel: ChannelPlaceholder, Location: LocationPlaceholder}
}

// With returns a copy of e with one field replaced. Dates accept Date,
// *Date or nil; channel and location accept string.
func (e Entry) With(f Field, v any) (Entry, error) {
	switch f {
	case FieldStartDate, FieldEndDate:
		d, err := asDate(v)
		if err != nil {
			return e, fmt.Errorf("%s: %w", f, err)
		}
		if f == FieldStartDate {
			e.StartDate = d
		} else {
			e.EndDate = d
		}
	case FieldChannel, FieldLocation:
		s, ok := v.(string)
		if !ok {
			return e, fmt.Errorf("%s: want string, got %T", f, v)
		}
		if f == FieldChannel {
			e.Channel = s
		} else {
			e.Location = s
		}
	default:
		return e, fmt.Errorf("unknown field %q", f)
	}
	return e, nil
}

// Value returns the current value of f in the form With accepts.
func (e Entry) Value(f Field) any {
	switch f {
	case FieldStartDate:
		return e.StartDate
	case FieldEndDate:
		return e.EndDate
	case FieldChannel:
		return e.Channel
	case FieldLocation:
		return e.Location
	}
	return nil
}

func asDate(v any) (*Date, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case Date:
		return &d, nil
	case *Date:
		if d == nil {
			return nil, nil
		}
		cp := *d
		return &cp, nil
	default:
		return nil, fmt.Errorf("want schedule.Date, got %T", v)
	}
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var aux struct {
		Key       int             `json:"key"`
		StartDate json.RawMessage `json:"startDate"`
		EndDate   json.RawMessage `json:"endDate"`
		Channel   string          `json:"channel"`
		Location  string          `json:"location"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	start, err := decodeOptionalDate(aux.StartDate)
	if err != nil {
		return fmt.Errorf("entry %d startDate: %w", aux.Key, err)
	}
	end, err := decodeOptionalDate(aux.EndDate)
	if err != nil {
		return fmt.Errorf("entry %d endDate: %w", aux.Key, err)
	}
	*e = Entry{Key: aux.Key, StartDate: start, EndDate: end, Channel: aux.Channel, Location: aux.Location}
	return nil
}
