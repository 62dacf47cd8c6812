package recompute

import (
	"context"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

// IdentityCreate mirrors a new identity-provider user into users/{uid}.
func IdentityCreate() triggers.Handler {
	return triggers.NewHandler("identity.create", triggers.KindIdentityCreate, content.UserPattern, createUser)
}

func createUser(_ context.Context, env triggers.Env, ev triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	if ev.User == nil {
		return nil, nil
	}
	profile := content.User{
		DisplayName: ev.User.DisplayName,
		Email:       ev.User.Email,
		PhoneNumber: ev.User.PhoneNumber,
	}
	if err := content.ValidateUser(profile); err != nil {
		logOf(env).Warn("identity profile rejected", "uid", params.Get("uid"), "error", err)
		return nil, nil
	}
	fields := docstore.Fields{content.FieldDateCreated: env.Now.UTC()}
	if profile.DisplayName != "" {
		fields[content.FieldDisplayName] = profile.DisplayName
	}
	if profile.Email != "" {
		fields[content.FieldEmail] = profile.Email
	}
	if profile.PhoneNumber != "" {
		fields[content.FieldPhoneNumber] = profile.PhoneNumber
	}
	return []triggers.PendingWrite{triggers.Set(content.UserPath(params.Get("uid")), fields, "identity created")}, nil
}

// IdentityDelete removes the mirrored user document.
func IdentityDelete() triggers.Handler {
	return triggers.NewHandler("identity.delete", triggers.KindIdentityDelete, content.UserPattern, deleteUser)
}

func deleteUser(_ context.Context, _ triggers.Env, _ triggers.Event, params triggers.Params) ([]triggers.PendingWrite, error) {
	return []triggers.PendingWrite{triggers.Delete(content.UserPath(params.Get("uid")), "identity deleted")}, nil
}
