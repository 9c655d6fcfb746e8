package inbox

import (
	"fmt"

	"github.com/hotaru-social/hotaru/types"
)

// ViolationKind separates authentication-class failures from shape failures
// so the HTTP layer can answer 401 for the former and 422 for the latter.
type ViolationKind int

const (
	ViolationShape ViolationKind = iota
	ViolationAuth
)

type Violation struct {
	Kind    ViolationKind
	Message string
}

// Some widely-deployed peers omit id on these types; the activity is still
// accepted, with replay protection disabled for it.
func idOptional(t types.ActivityType) bool {
	switch t {
	case types.TypeLike, types.TypeFollow, types.TypeAnnounce:
		return true
	}
	return false
}

// Validate checks the envelope of a parsed activity against the verified
// signer. It returns every violation found rather than a single verdict so
// callers can pick status codes by kind.
func Validate(activity *types.Activity, verifiedActor string) []Violation {
	var violations []Violation

	if activity.Type == "" {
		violations = append(violations, Violation{
			Kind:    ViolationShape,
			Message: "activity has no type",
		})
	}

	if activity.ID == "" && !idOptional(activity.Type) {
		violations = append(violations, Violation{
			Kind:    ViolationShape,
			Message: fmt.Sprintf("%s activity has no id", activity.Type),
		})
	}

	if activity.Actor == "" {
		violations = append(violations, Violation{
			Kind:    ViolationShape,
			Message: "activity has no actor",
		})
	} else if verifiedActor != "" && activity.Actor.String() != verifiedActor {
		violations = append(violations, Violation{
			Kind: ViolationAuth,
			Message: fmt.Sprintf("activity actor %s does not match signing actor %s",
				activity.Actor, verifiedActor),
		})
	}

	return violations
}

// HasAuthViolation reports whether any violation is authentication-class.
func HasAuthViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Kind == ViolationAuth {
			return true
		}
	}
	return false
}
