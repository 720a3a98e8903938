package model

import "errors"

var ErrorUserNotFound = errors.New("user not found")
var ErrorTokenNotFound = errors.New("token not found")
var ErrorTokenBound = errors.New("token already bound to a user")
var ErrorInvalidCredentials = errors.New("invalid handle or password")
var ErrorRateLimited = errors.New("login attempted too soon")
var ErrorInvalidHandle = errors.New("invalid handle")
var ErrorHandleTaken = errors.New("handle already taken")
var ErrorRegistrationDisabled = errors.New("registration disabled")
var ErrorInputTooLong = errors.New("input too long")
var ErrorInvalidRole = errors.New("invalid role")
var ErrorIDExhausted = errors.New("could not allocate an unused id")
