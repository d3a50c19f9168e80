package cluster

import (
	"errors"
	"fmt"
)

var (
	ErrNoServerAvailable = errors.New("ssdb: no server available")
	ErrNoMaster          = errors.New("ssdb: cluster without master")
	ErrNoServers         = errors.New("ssdb: cluster without servers")
)

// NoServerAvailableError is returned when a cluster has no live server
// for the request
type NoServerAvailableError struct {
	Cluster string
	Write   bool
}

func (e *NoServerAvailableError) Error() string {
	kind := "server"
	if e.Write {
		kind = "master"
	}
	return fmt.Sprintf("ssdb: no %s available in cluster %s", kind, e.Cluster)
}

func (e *NoServerAvailableError) Unwrap() error {
	return ErrNoServerAvailable
}
