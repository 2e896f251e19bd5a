package api

import "errors"

// ErrTaskNotInGraph is returned when a dependency operation references a
// task id that was never added to the graph. In the source system this is a
// programmer error surfaced as an exception at build time; here it is a
// plain error the workflow function's caller is expected to check.
var ErrTaskNotInGraph = errors.New("api: task not in graph")
