package typing

import (
	"github.com/go-vgo/robotgo"
)

// RobotgoTyper synthesizes key events through robotgo.
type RobotgoTyper struct{}

func NewRobotgoTyper() RobotgoTyper {
	return RobotgoTyper{}
}

func (RobotgoTyper) TypeChar(r rune) error {
	robotgo.TypeStr(string(r))
	return nil
}
