package router

import (
	"fmt"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// RoutingError reports that no provider could be chosen for a forced
// provider or tier. It is a configuration problem and is never retried.
type RoutingError struct {
	Provider models.Provider
	Tier     models.Tier
	Reason   string
}

func (e *RoutingError) Error() string {
	switch {
	case e.Provider != "":
		return fmt.Sprintf("routing: provider %q: %s", e.Provider, e.Reason)
	case e.Tier != "":
		return fmt.Sprintf("routing: tier %q: %s", e.Tier, e.Reason)
	}
	return "routing: " + e.Reason
}
