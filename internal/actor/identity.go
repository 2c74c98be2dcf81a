package actor

import (
	"strings"

	"github.com/google/uuid"
)

// Identity names one actor instance. It is created once and never changes.
type Identity struct {
	Area     string `json:"area"`
	Name     string `json:"name"`
	Instance string `json:"instance"`
	FullName string `json:"full_name"`
}

// NewIdentity creates an identity with a fresh instance id
func NewIdentity(area, name string) Identity {
	return NewIdentityWithInstance(area, name, uuid.NewString())
}

// NewIdentityWithInstance creates an identity with a known instance id
func NewIdentityWithInstance(area, name, instance string) Identity {
	parts := make([]string, 0, 3)
	for _, p := range []string{area, name, instance} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return Identity{
		Area:     area,
		Name:     name,
		Instance: instance,
		FullName: strings.Join(parts, "."),
	}
}

// Child derives the identity of an actor owned by this one, e.g. a job's worker.
func (id Identity) Child(name string) Identity {
	return NewIdentityWithInstance(id.Area, id.Name+"-"+name, id.Instance)
}

func (id Identity) String() string {
	return id.FullName
}
