package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"eventhub/data/repository"
	"eventhub/services/auth"
)

type profileInput struct {
	Name  *string `json:"name" validate:"omitempty,min=1,max=100"`
	Email *string `json:"email" validate:"omitempty,email"`
}

func (app *application) getProfile(w http.ResponseWriter, r *http.Request) {
	app.me(w, r)
}

// updateProfile changes the actor's name and email. A new email address has
// to be verified again.
func (app *application) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in profileInput
	if err := app.ReadJSON(w, r, &in, true); err != nil {
		app.sendError(w, r, badRequest(err))
		return
	}

	u, err := app.users.GetUserByID(r.Context(), actor(r).UserID)
	if err != nil {
		app.sendError(w, r, err)
		return
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			app.sendError(w, r, badRequest(errors.New("name must not be blank")))
			return
		}
		u.Name = name
	}

	emailChanged := false
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		if email != u.Email {
			u.Email = email
			u.EmailVerified = false
			emailChanged = true
		}
	}

	if err := app.users.UpdateUser(r.Context(), u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			err = badRequest(errEmailTaken)
		}
		app.sendError(w, r, err)
		return
	}

	if emailChanged {
		verify, err := app.tokens.Issue(u, auth.PurposeVerify)
		if err != nil {
			app.sendError(w, r, err)
			return
		}
		app.background("verification-email", func(ctx context.Context) error {
			return app.mail.SendVerification(ctx, u, verify)
		})
	}

	_ = app.SendSuccessJSON(w, http.StatusOK, u, "user")
}
