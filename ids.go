package research

import "go.jetify.com/typeid"

// NewTaskID returns a new sortable task identifier
func NewTaskID() string {
	id, err := typeid.WithPrefix("task")
	if err != nil {
		panic(err)
	}
	return id.String()
}
