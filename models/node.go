package models

import "fmt"

// NodeInfo identifies a polled node. It is set once at construction and never mutated.
type NodeInfo struct {
	ID          uint8  `json:"id"`          // unique id
	Name        string `json:"name"`        // short display name
	Description string `json:"description"` // free-form operator description
}

func (n NodeInfo) String() string {
	return fmt.Sprintf("Node(id=%d, name='%s', description='%s')", n.ID, n.Name, n.Description)
}
