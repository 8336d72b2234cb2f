// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package middleware provides the HTTP middleware chain for the Mongate API server.
//
// # Architecture
//
// Middleware intercepts incoming HTTP requests to apply global policies
// before they reach the query-plane handlers. This includes cross-cutting
// concerns like Logging, AuthN, and per-descriptor authorization.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/platform/ctxutil"
	"github.com/taibuivan/mongate/internal/platform/respond"
	"github.com/taibuivan/mongate/internal/platform/sec"
	"github.com/taibuivan/mongate/internal/query"
	"github.com/taibuivan/mongate/internal/schema"
)

// TokenVerifier defines the interface needed to verify tokens in middleware.
//
// # Why an interface?
//
// Defining TokenVerifier here decouples the middleware from the `sec` token
// service implementation, allowing us to easily inject mocks during unit testing.
type TokenVerifier interface {
	VerifyToken(tokenStr string) (*sec.AuthClaims, error)
}

// Authenticate extracts and verifies the JWT from the Authorization header.
//
// # Flow
//  1. Check for 'Authorization: Bearer <token>' header.
//  2. If absent, request proceeds as anonymous.
//  3. If present, parse and verify the JWT via [TokenVerifier].
//  4. Inject [*sec.AuthClaims] into the request context for downstream use.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			authHeader := request.Header.Get("Authorization")

			// ── 1. Anonymous Access ───────────────────────────────────────────
			if authHeader == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// ── 2. Format Validation ──────────────────────────────────────────
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				respond.Error(writer, request, apperr.Authentication("Invalid authorization format"))
				return
			}

			// ── 3. Token Verification ─────────────────────────────────────────
			tokenStr := parts[1]
			claims, err := verifier.VerifyToken(tokenStr)
			if err != nil {
				respond.Error(writer, request, apperr.Authentication("Invalid or expired token"))
				return
			}

			// ── 4. Context Injection ──────────────────────────────────────────
			ctx := ctxutil.WithAuthUser(request.Context(), claims)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// # Descriptor Authorization

// AuthorizeCollection checks one operation on one collection against the
// caller's effective permission set and the descriptor's policy bundle.
//
// Precedence: admin bypasses everything; a token collection allowlist scopes
// everything; token-explicit grants beat descriptor role lists.
func AuthorizeCollection(set *sec.PermissionSet, descriptor *schema.CollectionDescriptor, operation string) error {
	if set.Role == sec.RoleAdmin {
		return nil
	}
	if !set.InCollectionScope(descriptor.Name) {
		return apperr.Authorization(fmt.Sprintf("Collection '%s' is outside your token's scope", descriptor.Name))
	}
	if set.HasExplicit(descriptor.Name, operation) {
		return nil
	}

	roles := descriptor.Permissions[operation]
	if len(roles) > 0 && set.RoleSatisfies(roles) {
		return nil
	}
	return apperr.Authorization(fmt.Sprintf("Role '%s' may not %s on collection '%s'", set.Role, operation, descriptor.Name))
}

// AuthorizeSelection checks read access on the target of every relationship
// alias a selection AST touches, recursively. The root collection itself is
// not checked here; the caller authorizes it separately.
// Relationship-level permission overrides beat the target's own policy.
func AuthorizeSelection(set *sec.PermissionSet, registry *schema.Registry, descriptor *schema.CollectionDescriptor, selection []*query.Node) error {
	for _, node := range selection {
		if node.Kind == query.KindField {
			continue
		}

		rel := descriptor.Relationship(node.Relation)
		if rel == nil {
			// Validation runs before authorization; an unknown alias here is
			// an internal sequencing bug.
			return apperr.Internal(fmt.Errorf("authorize: unvalidated relationship %q", node.Relation))
		}
		target, ok := registry.GetCollection(rel.Target)
		if !ok {
			return apperr.Internal(fmt.Errorf("authorize: relationship %q targets unregistered collection %q", node.Relation, rel.Target))
		}

		if override := rel.Permissions["find"]; len(override) > 0 {
			if set.Role != sec.RoleAdmin && !set.RoleSatisfies(override) && !set.HasExplicit(target.Name, "find") {
				return apperr.Authorization(fmt.Sprintf("Role '%s' may not traverse relationship '%s'", set.Role, node.Alias))
			}
		} else if err := AuthorizeCollection(set, target, "find"); err != nil {
			return err
		}

		if node.Kind == query.KindRelationship {
			if err := AuthorizeSelection(set, registry, target, node.SubFields); err != nil {
				return err
			}
		}
	}
	return nil
}

// AuthorizeProcedure checks execute permission on a procedure.
func AuthorizeProcedure(set *sec.PermissionSet, descriptor *schema.ProcedureDescriptor) error {
	if set.Role == sec.RoleAdmin {
		return nil
	}
	if set.HasProcedure(descriptor.Name) {
		return nil
	}
	if len(descriptor.Permissions) > 0 && set.RoleSatisfies(descriptor.Permissions) {
		return nil
	}
	return apperr.Authorization(fmt.Sprintf("Role '%s' may not execute procedure '%s'", set.Role, descriptor.Name))
}

// PermissionSetFor derives the caller's effective permission set from the
// request context.
func PermissionSetFor(request *http.Request) *sec.PermissionSet {
	return sec.NewPermissionSet(ctxutil.GetAuthUser(request.Context()))
}

// SubjectFor returns the caller's rate-limit identity: the token subject, or
// the client IP for anonymous requests.
func SubjectFor(request *http.Request) string {
	if claims := ctxutil.GetAuthUser(request.Context()); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return "anon:" + RealIP(request)
}
