package api

// --- Data Structures for WebSocket Messages ---

// Vector3 defines a standard 3D vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// TwistMsg is a velocity intent in geometry_msgs/Twist layout. linear.x and
// linear.y map to vx and vy, angular.z to w. Stop takes precedence over the
// velocities; a zero twist without it is an ordinary command.
type TwistMsg struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
	Stop    bool    `json:"stop,omitempty"`
}

// --- REST payloads ---

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
