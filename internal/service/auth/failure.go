package auth

import "fmt"

type Reason string

const (
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonNotAllowed         Reason = "not_allowed"
	ReasonInvalidHandle      Reason = "invalid_handle"
	ReasonAlreadyExists      Reason = "already_exists"
	ReasonInvalidInput       Reason = "invalid_input"
	ReasonInternal           Reason = "internal_error"
)

const (
	MessageLoggedIn         = "You have been logged in successfully."
	MessageInvalidLogin     = "The login information is not valid."
	MessageRegisterDisabled = "Registering has been disabled at the moment."
	MessageInvalidHandle    = "Your handle isn't valid. Please make sure it matches the requirements for handles."
	MessageHandleTaken      = "Someone is already using that handle. Please try another one."
	MessageRegistered       = "Your user account has been created successfully!"
	MessageLoggedOut        = "You have been logged out."
	MessageInputTooLong     = "Some of the information you entered is too long."
	MessageActionExpired    = "This action has expired. Please reload the page and try again."
	MessageSignedOutAll     = "You have been logged out everywhere."
	MessageInternal         = "Something went wrong on our side. Please try again later."
)

// Failure is returned by every flow when a request is rejected. Reason is
// machine readable, Message is safe to show to the user.
type Failure struct {
	Reason  Reason
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return string(f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(reason Reason, message string, err error) *Failure {
	return &Failure{Reason: reason, Message: message, Err: err}
}

func invalidLogin(err error) *Failure {
	return fail(ReasonInvalidCredentials, MessageInvalidLogin, err)
}

func internal(err error) *Failure {
	return fail(ReasonInternal, MessageInternal, err)
}
