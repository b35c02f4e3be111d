package consolidate

import (
	"context"
	"errors"

	"github.com/m-mizutani/kioku/pkg/model"
)

// GetProfile returns the profile for the key, building it lazily on first
// read when the entity has events but no profile yet. An entity with no
// events at all yields an empty, unpersisted stub instead of an error.
func (u *UseCase) GetProfile(ctx context.Context, key model.ProfileKey) (*model.Profile, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	profile, err := u.repo.GetProfile(ctx, key)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	profile, err = u.consolidateEntity(ctx, key)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	// No events ever recorded for this entity
	return &model.Profile{
		RobotID:     key.RobotID,
		EntityType:  key.EntityType,
		EntityID:    key.EntityID,
		LastUpdated: u.now(),
	}, nil
}
