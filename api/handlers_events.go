package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"eventhub/data/images"
	"eventhub/data/models"
	"eventhub/data/repository"
	"eventhub/services/auth"
	"eventhub/services/events"
)

// maxFormMemory is how much of a multipart form is buffered in memory.
const maxFormMemory = 1 << 20

type eventInput struct {
	Title                string           `json:"title"`
	Description          string           `json:"description"`
	StartDate            time.Time        `json:"startDate"`
	EndDate              time.Time        `json:"endDate"`
	Location             models.Location  `json:"location"`
	Category             models.Category  `json:"category"`
	Capacity             int              `json:"capacity"`
	Price                float64          `json:"price"`
	IsPublic             *bool            `json:"isPublic"`
	RegistrationDeadline time.Time        `json:"registrationDeadline"`
	Tags                 models.Tags      `json:"tags"`
	Reminders            models.Reminders `json:"reminders"`
	Status               models.Status    `json:"status"`
}

func (in eventInput) toModel() models.Event {
	public := true
	if in.IsPublic != nil {
		public = *in.IsPublic
	}
	return models.Event{
		Title:                strings.TrimSpace(in.Title),
		Description:          strings.TrimSpace(in.Description),
		StartDate:            in.StartDate,
		EndDate:              in.EndDate,
		Location:             in.Location,
		Category:             in.Category,
		Capacity:             in.Capacity,
		Price:                in.Price,
		IsPublic:             public,
		RegistrationDeadline: in.RegistrationDeadline,
		Tags:                 in.Tags,
		Reminders:            in.Reminders,
		Status:               in.Status,
	}
}

type eventOp func(ctx context.Context, a auth.Actor, id int64) (models.Event, error)

type commentInput struct {
	Text string `json:"text"`
}

func (app *application) createEvent(w http.ResponseWriter, r *http.Request) {
	var in eventInput
	image, err := app.readEventForm(w, r, &in)
	if err != nil {
		app.sendError(w, r, err)
		return
	}

	e := in.toModel()
	if image != nil {
		e.Image = *image
	}

	created, err := app.events.Create(r.Context(), actor(r), e)
	if err != nil {
		if image != nil {
			app.removeUpload(*image)
		}
		app.sendError(w, r, err)
		return
	}
	_ = app.SendSuccessJSON(w, http.StatusCreated, created)
}

func (app *application) listEvents(w http.ResponseWriter, r *http.Request) {
	params := map[string]string{}
	for key := range r.URL.Query() {
		params[key] = r.URL.Query().Get(key)
	}

	q, err := repository.NewEventQuery(params)
	if err != nil {
		app.sendError(w, r, badRequest(err))
		return
	}

	list, page, err := app.events.List(r.Context(), actor(r), q)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	_ = app.SendPageJSON(w, list, page)
}

func (app *application) eventsByDate(w http.ResponseWriter, r *http.Request) {
	list, err := app.events.ListByDate(r.Context(), actor(r), r.PathValue("date"))
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	_ = app.SendSuccessJSON(w, http.StatusOK, list)
}

func (app *application) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		app.sendError(w, r, err)
		return
	}

	e, err := app.events.Get(r.Context(), actor(r), id)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	_ = app.SendSuccessJSON(w, http.StatusOK, e)
}

func (app *application) updateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		app.sendError(w, r, err)
		return
	}

	var changes events.Changes
	image, err := app.readEventForm(w, r, &changes)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	changes.Image = image

	e, err := app.events.Update(r.Context(), actor(r), id, changes)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	_ = app.SendSuccessJSON(w, http.StatusOK, e)
}

func (app *application) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		app.sendError(w, r, err)
		return
	}

	if err := app.events.Delete(r.Context(), actor(r), id); err != nil {
		app.sendError(w, r, err)
		return
	}
	_ = app.SendMessageJSON(w, http.StatusOK, "Event deleted successfully")
}

func (app *application) registerForEvent(w http.ResponseWriter, r *http.Request) {
	app.mutateEvent(w, r, app.events.Register)
}

func (app *application) cancelRegistration(w http.ResponseWriter, r *http.Request) {
	app.mutateEvent(w, r, app.events.CancelRegistration)
}

func (app *application) toggleLike(w http.ResponseWriter, r *http.Request) {
	app.mutateEvent(w, r, app.events.ToggleLike)
}

func (app *application) addComment(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		app.sendError(w, r, err)
		return
	}

	var in commentInput
	if err := app.ReadJSON(w, r, &in, false); err != nil {
		app.sendError(w, r, badRequest(err))
		return
	}

	e, err := app.events.AddComment(r.Context(), actor(r), id, in.Text)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	_ = app.SendSuccessJSON(w, http.StatusOK, e)
}

func (app *application) mutateEvent(w http.ResponseWriter, r *http.Request, op eventOp) {
	id, err := eventID(r)
	if err != nil {
		app.sendError(w, r, err)
		return
	}

	e, err := op(r.Context(), actor(r), id)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	_ = app.SendSuccessJSON(w, http.StatusOK, e)
}

// readEventForm decodes an event body sent either as JSON or as a multipart
// form with the JSON in the "event" field and an optional "image" file. It
// returns the stored path of an uploaded image.
func (app *application) readEventForm(w http.ResponseWriter, r *http.Request, dst interface{}) (*string, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := app.ReadJSON(w, r, dst, false); err != nil {
			return nil, badRequest(err)
		}
		return nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, images.MaxSize+maxFormMemory)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, images.ErrTooLarge
		}
		return nil, badRequest(fmt.Errorf("invalid multipart form: %w", err))
	}

	if raw := r.FormValue("event"); raw != "" {
		if err := decodeJSON(strings.NewReader(raw), dst, false); err != nil {
			return nil, badRequest(err)
		}
	}

	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, badRequest(fmt.Errorf("invalid image upload: %w", err))
	}
	defer file.Close()

	ref, err := app.images.Save(file)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (app *application) removeUpload(ref string) {
	if err := app.images.Remove(ref); err != nil {
		app.log.WithError(err).WithField("image", ref).Warn("could not remove orphaned upload")
	}
}

func eventID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest(errors.New("invalid event id"))
	}
	return id, nil
}
