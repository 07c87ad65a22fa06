package platform

import (
	"context"
	"fmt"
	"strings"
)

// deniedRoles may read but cannot run destructive operations.
var deniedRoles = map[string]bool{"VIEWER": true, "CONTRIB": true}

// CurrentUser holds the parsed /users/current/ response.
type CurrentUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// CheckAccess verifies the credentials and that the caller's role may delete
// and create resources. Invalid keys surface as *AuthError from the read itself.
func (c *Client) CheckAccess(ctx context.Context) (*CurrentUser, error) {
	var user CurrentUser
	if err := c.GetJSON(ctx, "/users/current/", nil, &user); err != nil {
		return nil, err
	}
	role := strings.ToUpper(user.Role)
	if deniedRoles[role] {
		return &user, &AuthError{Body: fmt.Sprintf("insufficient privileges for role %s", role)}
	}
	return &user, nil
}
