package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"eventhub/data/images"
	"eventhub/data/repository"
	"eventhub/services/auth"
	"eventhub/services/events"

	"github.com/go-playground/validator"
	"github.com/sirupsen/logrus"
)

type successJSON struct {
	Success    bool               `json:"success"`
	Status     string             `json:"status"`
	Data       interface{}        `json:"data,omitempty"`
	Pagination *events.Pagination `json:"pagination,omitempty"`
	Message    string             `json:"message,omitempty"`
}

type errorJSON struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// requestError marks a malformed request body or parameter.
type requestError struct {
	err error
}

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return requestError{err: err}
}

func marshalAndSend(w http.ResponseWriter, jsonRes interface{}, statusCode int) error {
	switch jsonRes.(type) {
	case successJSON, errorJSON:
		payload, err := json.Marshal(jsonRes)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		// write the json out
		_, err = w.Write(payload)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported type: %T", jsonRes)
	}
	return nil
}

func (app *application) SendSuccessJSON(w http.ResponseWriter, statusCode int, data interface{}, wrap ...string) error {
	jsonRes := successJSON{
		Success: true,
		Status:  "success",
	}

	if len(wrap) > 0 {
		jsonRes.Data = map[string]interface{}{wrap[0]: data}
	} else {
		jsonRes.Data = data
	}

	return marshalAndSend(w, jsonRes, statusCode)
}

func (app *application) SendPageJSON(w http.ResponseWriter, data interface{}, p events.Pagination) error {
	return marshalAndSend(w, successJSON{Success: true, Status: "success", Data: data, Pagination: &p}, http.StatusOK)
}

func (app *application) SendMessageJSON(w http.ResponseWriter, statusCode int, message string) error {
	return marshalAndSend(w, successJSON{Success: true, Status: "success", Message: message}, statusCode)
}

func (app *application) SendErrorJSON(w http.ResponseWriter, statusCode int, err error) error {
	jsonRes := errorJSON{}
	if statusCode >= 500 {
		jsonRes.Status = "error"
	} else {
		jsonRes.Status = "fail"
	}

	jsonRes.Message = err.Error()

	return marshalAndSend(w, jsonRes, statusCode)
}

// errorStatus maps a handler error onto its response code and the message
// shown to the client.
func errorStatus(err error) (int, string) {
	var denied *events.RegistrationDeniedError
	var invalid *events.ValidationError
	var malformed requestError
	var verrs validator.ValidationErrors

	switch {
	case errors.Is(err, events.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "Resource not found"
	case errors.Is(err, events.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.As(err, &denied), errors.As(err, &invalid), errors.Is(err, events.ErrNotRegistered):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, events.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, auth.ErrInvalidToken.Error()
	case errors.Is(err, images.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, images.ErrUnsupportedType):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &verrs):
		return http.StatusBadRequest, fmt.Sprintf("%s failed on the '%s' rule", verrs[0].Field(), verrs[0].Tag())
	case errors.As(err, &malformed):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

// sendError writes err using errorStatus and logs anything that is not the
// client's fault.
func (app *application) sendError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := errorStatus(err)
	if code >= http.StatusInternalServerError {
		app.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	_ = app.SendErrorJSON(w, code, errors.New(msg))
}

var validate = validator.New()

func (app *application) ReadJSON(w http.ResponseWriter, r *http.Request, data interface{}, validationReq bool) error {
	maxBytes := 1024 * 1024 // one megabyte
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))
	return decodeJSON(r.Body, data, validationReq)
}

func decodeJSON(body io.Reader, data interface{}, validationReq bool) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	// attempt to decode the data
	err := dec.Decode(data)
	if err != nil {
		return err
	}

	// make sure only one JSON value in payload
	err = dec.Decode(&struct{}{})
	if err != io.EOF {
		return errors.New("body must only contain a single JSON value")
	}

	if validationReq {
		err := validate.Struct(data)
		if err != nil {
			return err
		}
	}

	return nil
}
