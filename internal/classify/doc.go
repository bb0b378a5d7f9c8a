// Package classify turns raw chat-platform webhook payloads into canonical
// events the broker can route on, tolerating the platform's several payload
// shapes for the same semantic fields.
package classify
