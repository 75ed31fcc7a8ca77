package keyboard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Callback data has the form "unique" or "unique:payload".
const (
	CallbackDataSeparator  = ":"
	CallbackDataLimitBytes = 64

	// telebot prepends this to data of buttons built with Unique.
	telebotUniquePrefix = "\f"
)

var (
	ErrEmptyCallback   = errors.New("callback data is empty")
	ErrCallbackTooLong = fmt.Errorf("callback data exceeds %d byte limit", CallbackDataLimitBytes)
)

// EncodeCallback joins unique and data and checks Telegram's size limit.
func EncodeCallback(unique, data string) (string, error) {
	if unique == "" || strings.Contains(unique, CallbackDataSeparator) {
		return "", fmt.Errorf("invalid callback name %q", unique)
	}

	payload := unique
	if data != "" {
		payload += CallbackDataSeparator + data
	}
	if len(payload) > CallbackDataLimitBytes {
		return "", fmt.Errorf("%w: got %d", ErrCallbackTooLong, len(payload))
	}

	return payload, nil
}

// EncodeCallbackID encodes a callback whose payload is a numeric id.
func EncodeCallbackID(unique string, id int64) (string, error) {
	return EncodeCallback(unique, strconv.FormatInt(id, 10))
}

// DecodeCallback splits callback data on the first separator.
func DecodeCallback(callbackData string) (unique, data string, err error) {
	callbackData = strings.TrimPrefix(callbackData, telebotUniquePrefix)
	if callbackData == "" {
		return "", "", ErrEmptyCallback
	}

	unique, data, _ = strings.Cut(callbackData, CallbackDataSeparator)
	return unique, data, nil
}

// CallbackID returns the numeric payload of callback data built by EncodeCallbackID.
func CallbackID(callbackData string) (int64, error) {
	_, data, err := DecodeCallback(callbackData)
	if err != nil {
		return 0, err
	}

	id, err := strconv.ParseInt(data, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("callback payload %q is not an id", data)
	}
	return id, nil
}
