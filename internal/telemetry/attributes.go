// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Upstream attributes
	EndpointKey       = "rbx.endpoint"
	HTTPStatusCodeKey = "http.status_code"

	// Target attributes
	UserIDKey     = "rbx.user_id"
	PlaceIDKey    = "rbx.place_id"
	InstanceIDKey = "rbx.instance_id"
	PresenceKey   = "rbx.presence"

	// Negotiation attributes
	StageKey = "join.stage"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// InstanceAttributes describes the game instance a span operates on.
func InstanceAttributes(placeID int64, instanceID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int64(PlaceIDKey, placeID)}
	if instanceID != "" {
		attrs = append(attrs, attribute.String(InstanceIDKey, instanceID))
	}
	return attrs
}

// UpstreamAttributes describes a platform API round trip.
func UpstreamAttributes(endpoint string, statusCode int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(EndpointKey, endpoint)}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int(HTTPStatusCodeKey, statusCode))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	if errorType == "" {
		errorType = "unknown"
	}
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
