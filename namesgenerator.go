package harness

import (
	"fmt"

	"github.com/docker/docker/pkg/namesgenerator"
	"github.com/google/uuid"
)

// GetRandomName returns a docker-style name with a uuid fragment appended
// so retries and parallel runs never collide.
func GetRandomName(retry int) string {
	return fmt.Sprint(namesgenerator.GetRandomName(retry), "_", uuid.NewString()[:8])
}
