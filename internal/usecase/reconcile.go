package usecase

import (
	"fmt"

	"parley/internal/domain"
)

// Reconcile projects controller state onto the presentation state. It
// returns an InvariantViolation alongside Processing when capture and
// dispatch are both active.
func Reconcile(capture domain.CaptureState, dispatch domain.DispatchState) (domain.PresentationState, error) {
	listening := false
	switch capture.Kind {
	case domain.CaptureAwaitingPermission, domain.CaptureListening, domain.CaptureRetrying:
		listening = true
	}
	processing := dispatch.Kind == domain.DispatchInFlight

	switch {
	case listening && processing:
		return domain.PresentationProcessing, &domain.InvariantViolation{
			Detail: fmt.Sprintf("capture %s overlaps dispatch %s", capture.Kind, dispatch.Kind),
		}
	case processing:
		return domain.PresentationProcessing, nil
	case listening:
		return domain.PresentationListening, nil
	default:
		return domain.PresentationIdle, nil
	}
}
