package bookings

import (
	"fmt"
	"time"
)

// Terminal reports whether the session can no longer change.
func (s *PaymentSession) Terminal() bool {
	switch s.Status {
	case SessionCaptured, SessionVoided, SessionExpired:
		return true
	}
	return false
}

// Live reports whether the session still blocks opening a new one.
func (s *PaymentSession) Live(now time.Time) bool {
	switch s.Status {
	case SessionAuthorized:
		return true
	case SessionCreated:
		return now.Before(s.ExpiresAt)
	}
	return false
}

func (s *PaymentSession) MarkAuthorized(intentID string, at time.Time) error {
	if s.Status != SessionCreated {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, s.ID, s.Status)
	}
	s.Status = SessionAuthorized
	if intentID != "" {
		s.ProviderIntentID = intentID
	}
	s.AuthorizedAt = &at
	return nil
}

func (s *PaymentSession) MarkCaptured(at time.Time) error {
	if s.Status != SessionAuthorized {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, s.ID, s.Status)
	}
	s.Status = SessionCaptured
	s.CapturedAt = &at
	return nil
}

func (s *PaymentSession) MarkVoided(at time.Time) error {
	if s.Terminal() {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, s.ID, s.Status)
	}
	s.Status = SessionVoided
	s.VoidedAt = &at
	return nil
}

func (s *PaymentSession) MarkExpired() error {
	if s.Status != SessionCreated {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, s.ID, s.Status)
	}
	s.Status = SessionExpired
	return nil
}
