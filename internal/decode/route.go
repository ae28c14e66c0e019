package decode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
)

// LabelFunc resolves a node id to a human label.
type LabelFunc func(nodeID uint32) string

// DecorateRoute rewrites traceroute and routing details in place with human
// node labels. Traceroute details get {route,routeBack}Labels/{...}Text plus a
// derived text; routing details get the same treatment on the nested
// routeRequest/routeReply blocks, with a routing-error fallback text. Other
// portnums are untouched.
func DecorateRoute(portnum *int32, details map[string]any, label LabelFunc) {
	if portnum == nil || details == nil {
		return
	}

	switch meshtastic.PortNum(*portnum) {
	case meshtastic.PortNum_TRACEROUTE_APP:
		decorateBlock(details, label)

	case meshtastic.PortNum_ROUTING_APP:
		var combined []string
		for _, nested := range []struct{ key, prefix string }{
			{"routeRequest", "Request"},
			{"routeReply", "Reply"},
		} {
			block, ok := details[nested.key].(map[string]any)
			if !ok {
				continue
			}
			for _, part := range decorateBlock(block, label) {
				combined = append(combined, nested.prefix+" "+part)
			}
		}

		errorReason, _ := details["errorReason"].(string)
		switch {
		case len(combined) == 0 && errorReason != "" && errorReason != "NONE" && !hasText(details):
			details["text"] = "Routing error: " + errorReason
		case len(combined) > 0 && !hasText(details):
			details["text"] = strings.Join(combined, " | ")
		}
	}
}

// decorateBlock labels the route and routeBack lists of one details block and
// returns the "Route: a -> b" style segments it produced.
func decorateBlock(block map[string]any, label LabelFunc) []string {
	var parts []string
	for _, route := range []struct{ key, prefix string }{
		{"route", "Route"},
		{"routeBack", "Return"},
	} {
		hops, ok := block[route.key].([]any)
		if !ok || len(hops) == 0 {
			continue
		}
		labels := make([]string, 0, len(hops))
		for _, hop := range hops {
			if id, ok := coerceNodeID(hop); ok {
				labels = append(labels, label(id))
			} else {
				labels = append(labels, fmt.Sprintf("%v", hop))
			}
		}
		text := strings.Join(labels, " -> ")
		block[route.key+"Labels"] = labels
		block[route.key+"Text"] = text
		parts = append(parts, route.prefix+": "+text)
	}
	if len(parts) > 0 && !hasText(block) {
		block["text"] = strings.Join(parts, " | ")
	}
	return parts
}

func coerceNodeID(value any) (uint32, bool) {
	switch v := value.(type) {
	case float64:
		if v >= 0 && v <= math.MaxUint32 {
			return uint32(v), true
		}
	case string:
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n), true
		}
	}
	return 0, false
}

func hasText(block map[string]any) bool {
	text, ok := block["text"].(string)
	return ok && text != ""
}
