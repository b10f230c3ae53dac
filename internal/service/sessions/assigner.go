package sessions

import (
	"time"

	"github.com/google/uuid"
	"github.com/texican/chess-tracker/internal/domain"
)

// Reason explains a session assignment.
type Reason string

const (
	ReasonFirstMatch     Reason = "first_match"
	ReasonVenueChange    Reason = "venue_change"
	ReasonGapExceeded    Reason = "gap_exceeded"
	ReasonMissingSession Reason = "missing_session"
	ReasonLookupFailed   Reason = "lookup_failed"
	ReasonContinued      Reason = "continued"
)

// Assignment is the session chosen for a new match.
type Assignment struct {
	SessionID string
	Reason    Reason
}

// NewSession reports whether the assignment started a session.
func (a Assignment) NewSession() bool { return a.Reason != ReasonContinued }

// Assigner decides whether a new match continues the previous match's session.
// It never writes; the caller stores the chosen id on the new record.
type Assigner struct {
	Now   func() time.Time
	NewID func() string
}

func (a Assigner) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a Assigner) newID() string {
	if a.NewID != nil {
		return a.NewID()
	}
	return uuid.NewString()
}

// Assign applies, in order: no prior match, venue change, elapsed gap or
// missing prior session id each start a fresh session; otherwise the prior
// session continues. An empty venue on either side never splits.
func (a Assigner) Assign(last *domain.MatchRecord, gapHours float64, newVenue string) Assignment {
	if last == nil {
		return Assignment{SessionID: a.newID(), Reason: ReasonFirstMatch}
	}
	prevVenue := domain.NormalizeName(last.Venue)
	newVenue = domain.NormalizeName(newVenue)
	if prevVenue != "" && newVenue != "" && prevVenue != newVenue {
		return Assignment{SessionID: a.newID(), Reason: ReasonVenueChange}
	}
	elapsedMinutes := a.now().Sub(last.Timestamp).Minutes()
	if elapsedMinutes > gapHours*60 {
		return Assignment{SessionID: a.newID(), Reason: ReasonGapExceeded}
	}
	if last.SessionID == "" {
		return Assignment{SessionID: a.newID(), Reason: ReasonMissingSession}
	}
	return Assignment{SessionID: last.SessionID, Reason: ReasonContinued}
}

// Fresh returns a new session id after the prior match could not be read.
func (a Assigner) Fresh() Assignment {
	return Assignment{SessionID: a.newID(), Reason: ReasonLookupFailed}
}
