// Package schedule defines the schedule entry data model: calendar dates,
// entries, the channel/location option catalog, and the all-or-nothing
// validation gate applied before a save.
package schedule
