package discord

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a command failed. Every kind has a fixed reply.
type ErrorKind int

const (
	ErrUnexpectedQuote ErrorKind = iota + 1
	ErrInvalidEndOfQuotedString
	ErrExpectedClosingQuote
	ErrMissingRequiredArgument
	ErrArgumentParsing
	ErrTooManyArguments
	ErrBadArgument
	ErrCheckFailure
	ErrNotOwner
	ErrNoPrivateMessage
	ErrMissingPermissions
	ErrCommandNotFound
	ErrInvokeFailed
	ErrGeneric
)

func (k ErrorKind) String() string {
	switch k {
	case ErrUnexpectedQuote:
		return "unexpected_quote"
	case ErrInvalidEndOfQuotedString:
		return "invalid_end_of_quoted_string"
	case ErrExpectedClosingQuote:
		return "expected_closing_quote"
	case ErrMissingRequiredArgument:
		return "missing_required_argument"
	case ErrArgumentParsing:
		return "argument_parsing"
	case ErrTooManyArguments:
		return "too_many_arguments"
	case ErrBadArgument:
		return "bad_argument"
	case ErrCheckFailure:
		return "check_failure"
	case ErrNotOwner:
		return "not_owner"
	case ErrNoPrivateMessage:
		return "no_private_message"
	case ErrMissingPermissions:
		return "missing_permissions"
	case ErrCommandNotFound:
		return "command_not_found"
	case ErrInvokeFailed:
		return "invoke_failed"
	default:
		return "generic"
	}
}

// Reply returns the message shown to the user for a failure kind.
func (k ErrorKind) Reply() string {
	switch k {
	case ErrUnexpectedQuote, ErrInvalidEndOfQuotedString:
		return "Sorry, it appears that your quotation marks are misaligned, and I can't read your query."
	case ErrExpectedClosingQuote:
		return "Oh. I was expecting you were going to close out your command with a quote somewhere, but never found it!"
	case ErrMissingRequiredArgument:
		return "Oops, you are missing a required argument in the command."
	case ErrArgumentParsing:
		return "Sorry, I had trouble parsing one of your arguments."
	case ErrTooManyArguments:
		return "Woahhh!! Too many arguments for this command!"
	case ErrBadArgument:
		return "Sorry, I'm having trouble reading one of the arguments you just used. Try again!"
	case ErrCheckFailure:
		return "Sorry, but I don't think you can run that command."
	case ErrNotOwner:
		return "Oof. You have to be the bot's master to run that command!"
	case ErrNoPrivateMessage:
		return "Ope. You can't run this command in the DM's!"
	case ErrMissingPermissions:
		return "Er, you don't have the permissions to run this command."
	case ErrCommandNotFound:
		return "Sorry, I couldn't find that command."
	case ErrInvokeFailed:
		return "Sorry, but an error incurred when the command was invoked."
	case ErrGeneric:
		return "Oops, there was a command error. Try again."
	default:
		return "Oops, there was a command error. Try again."
	}
}

// CommandError is a failed command invocation.
type CommandError struct {
	Kind    ErrorKind
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %q: %s: %v", e.Command, e.Kind, e.Err)
	}
	return fmt.Sprintf("command %q: %s", e.Command, e.Kind)
}

func (e *CommandError) Unwrap() error { return e.Err }

func cmdErr(kind ErrorKind, command string, err error) *CommandError {
	return &CommandError{Kind: kind, Command: command, Err: err}
}

// kindOf maps any error to a failure kind. Errors that are not command errors
// happened while running the command.
func kindOf(err error) ErrorKind {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var pe *parseError
	if errors.As(err, &pe) {
		return pe.kind
	}
	return ErrInvokeFailed
}
