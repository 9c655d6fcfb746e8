package inbox

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hotaru-social/hotaru/types"
)

func TestValidateWellFormed(t *testing.T) {
	activity := &types.Activity{
		ID:    "https://remote.example/activities/1",
		Type:  types.TypeCreate,
		Actor: "https://remote.example/users/alice",
	}
	violations := Validate(activity, "https://remote.example/users/alice")
	assert.Empty(t, violations)
}

func TestValidateMissingType(t *testing.T) {
	activity := &types.Activity{
		ID:    "https://remote.example/activities/1",
		Actor: "https://remote.example/users/alice",
	}
	violations := Validate(activity, "https://remote.example/users/alice")
	assert.Len(t, violations, 1)
	assert.Equal(t, ViolationShape, violations[0].Kind)
}

func TestValidateMissingID(t *testing.T) {
	activity := &types.Activity{
		Type:  types.TypeCreate,
		Actor: "https://remote.example/users/alice",
	}
	violations := Validate(activity, "https://remote.example/users/alice")
	assert.Len(t, violations, 1)
	assert.Equal(t, ViolationShape, violations[0].Kind)
}

func TestValidateMissingIDLeniency(t *testing.T) {
	// Some peers send Like, Follow and Announce without an id.
	for _, kind := range []types.ActivityType{types.TypeLike, types.TypeFollow, types.TypeAnnounce} {
		activity := &types.Activity{
			Type:  kind,
			Actor: "https://remote.example/users/alice",
		}
		violations := Validate(activity, "https://remote.example/users/alice")
		assert.Empty(t, violations, "type %s", kind)
	}
}

func TestValidateActorMismatch(t *testing.T) {
	activity := &types.Activity{
		ID:    "https://remote.example/activities/1",
		Type:  types.TypeCreate,
		Actor: "https://remote.example/users/alice",
	}
	violations := Validate(activity, "https://other.example/users/mallory")
	assert.True(t, HasAuthViolation(violations))
}

func TestValidateUnknownTypePasses(t *testing.T) {
	// Unknown vocabulary is the dispatcher's problem, not a shape violation.
	activity := &types.Activity{
		ID:    "https://remote.example/activities/1",
		Type:  "Arrive",
		Actor: "https://remote.example/users/alice",
	}
	violations := Validate(activity, "https://remote.example/users/alice")
	assert.Empty(t, violations)
}
