package interceptors

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"access-core/internal/access/accesstest"
	rbacdomain "access-core/internal/rbac/domain"
)

func TestPermissionUnary(t *testing.T) {
	f := accesstest.New(t, 10, time.Minute)
	viewer := f.AddUser(t, "viewer@example.com", "pw", "viewer")
	admin := f.AddUser(t, "admin@example.com", "pw", "admin")

	const (
		getDoc    = "/acme.docs.v1.DocumentService/GetDocument"
		deleteDoc = "/acme.docs.v1.DocumentService/DeleteDocument"
		open      = "/acme.docs.v1.DocumentService/Ping"
	)
	interceptor := PermissionUnary(f.Facade, map[string]Rule{
		getDoc:    {Resource: "documents", Action: rbacdomain.ActionRead},
		deleteDoc: {Resource: "documents", Action: rbacdomain.ActionManage},
	})

	tests := []struct {
		name    string
		subject string
		method  string
		code    codes.Code
	}{
		{"viewer reads", viewer, getDoc, codes.OK},
		{"viewer cannot manage", viewer, deleteDoc, codes.PermissionDenied},
		{"admin manages", admin, deleteDoc, codes.OK},
		{"anonymous on guarded method", "", getDoc, codes.Unauthenticated},
		{"no rule", "", open, codes.OK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.subject != "" {
				ctx = WithIdentity(ctx, tc.subject)
			}
			_, err := interceptor(ctx, "req", &grpc.UnaryServerInfo{FullMethod: tc.method}, okHandler)
			if got := status.Code(err); got != tc.code {
				t.Errorf("code = %v, want %v (err %v)", got, tc.code, err)
			}
		})
	}
}
