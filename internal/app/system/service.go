// Package system coordinates the lifecycle of long-running components.
package system

import "context"

// Service is a component with a background lifecycle. The manager starts
// services in registration order and stops them in reverse, so a service may
// assume its dependencies are already running when Start is called.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
