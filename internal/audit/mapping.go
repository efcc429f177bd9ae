package audit

import "strings"

// ActionResource holds action and resource derived from a gRPC full method name or HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// ParseFullMethod returns action and resource for a gRPC full method (e.g. /acme.docs.v1.DocumentService/GetDocument).
// Action is a verb: get, list, create, update, delete, or a lowercase method name for others.
// Resource is derived from the service name (e.g. DocumentService -> document, grpc.health.v1.Health -> health).
func ParseFullMethod(fullMethod string) ActionResource {
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	method := fullMethod[slash+1:]
	beforeSlash := strings.TrimPrefix(fullMethod[:slash], "/")
	dot := strings.LastIndex(beforeSlash, ".")
	if dot < 0 {
		return ActionResource{Action: methodToAction(method), Resource: serviceToResource(beforeSlash)}
	}
	return ActionResource{Action: methodToAction(method), Resource: serviceToResource(beforeSlash[dot+1:])}
}

// ParseHTTPRoute returns action and resource for an HTTP request. The resource is the first
// path segment (/auth/login -> auth); the action is the remainder joined with "_", or the
// lowercase method when the path has a single segment.
func ParseHTTPRoute(method, path string) ActionResource {
	segs := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	switch len(segs) {
	case 0:
		return ActionResource{Action: strings.ToLower(method), Resource: "root"}
	case 1:
		return ActionResource{Action: strings.ToLower(method), Resource: segs[0]}
	default:
		return ActionResource{Action: strings.Join(segs[1:], "_"), Resource: segs[0]}
	}
}

func serviceToResource(serviceName string) string {
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s[0:1]) + s[1:]
}

func methodToAction(method string) string {
	switch {
	case strings.HasPrefix(method, "Get") && method != "Get":
		return "get"
	case strings.HasPrefix(method, "List"):
		return "list"
	case strings.HasPrefix(method, "Create"):
		return "create"
	case strings.HasPrefix(method, "Update"):
		return "update"
	case strings.HasPrefix(method, "Delete"):
		return "delete"
	case strings.HasPrefix(method, "Assign"):
		return "assign"
	case strings.HasPrefix(method, "Revoke"):
		return "revoke"
	case strings.HasPrefix(method, "Grant"):
		return "grant"
	case method == "":
		return "unknown"
	default:
		return strings.ToLower(method)
	}
}
