package model

import "time"

type RecordKind string

const (
	KindParticipation RecordKind = "participation"
	KindWellness      RecordKind = "wellness"
)

// Record is the normalized unit flowing from the ingest sources into the
// engine. Exactly one of the payload pointers is set, per Kind.
type Record struct {
	Kind          RecordKind            `json:"kind"`
	Source        string                `json:"source,omitempty"`
	Participation *SessionParticipation `json:"participation,omitempty"`
	Wellness      *WellnessReading      `json:"wellness,omitempty"`
}

func (r Record) TenantID() string {
	switch r.Kind {
	case KindParticipation:
		if r.Participation != nil {
			return r.Participation.TenantID
		}
	case KindWellness:
		if r.Wellness != nil {
			return r.Wellness.TenantID
		}
	}
	return ""
}

func (r Record) AthleteID() string {
	switch r.Kind {
	case KindParticipation:
		if r.Participation != nil {
			return r.Participation.AthleteID
		}
	case KindWellness:
		if r.Wellness != nil {
			return r.Wellness.AthleteID
		}
	}
	return ""
}

func (r Record) EventDate() time.Time {
	switch r.Kind {
	case KindParticipation:
		if r.Participation != nil {
			return r.Participation.Date
		}
	case KindWellness:
		if r.Wellness != nil {
			return r.Wellness.EventDate
		}
	}
	return time.Time{}
}
