package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind string

const (
	// AI 编排
	KindEmptyPrompt       Kind = "EmptyPrompt"
	KindMissingCredential Kind = "MissingCredential"
	KindRateLimited       Kind = "RateLimited"
	KindBadRequest        Kind = "BadRequest"
	KindNotFound          Kind = "NotFound"
	KindOverloaded        Kind = "Overloaded"
	KindSafetyBlocked     Kind = "SafetyBlocked"
	KindEmptyResponse     Kind = "EmptyResponse"
	KindUnexpectedStop    Kind = "UnexpectedStop"
	KindMalformedJSON     Kind = "MalformedJSON"
	KindUnknown           Kind = "Unknown"

	// 存储与同步
	KindLocalStoreUnavailable Kind = "LocalStoreUnavailable"
	KindRemoteUnavailable     Kind = "RemoteUnavailable"
	KindBlobUnavailable       Kind = "BlobUnavailable"
	KindPayloadTooLarge       Kind = "PayloadTooLarge"

	// 工作流
	KindDependencyUnmet Kind = "DependencyUnmet"
	KindValidation      Kind = "Validation"
)

// Error 带类别的错误，Message 面向用户
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf 返回错误链上第一个 *Error 的类别，没有则为 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// UserMessage 返回可以直接展示给用户的文本，不暴露上游原始内容
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
