package harness

import (
	"context"
	"fmt"
	"reflect"
)

// Fixture is a test resource with a managed lifecycle. SetUp must leave the
// resource ready for use or return an error. TearDown must be safe to call
// after a failed SetUp and must release everything SetUp acquired.
type Fixture interface {
	Type() string
	SetUp(ctx context.Context) error
	TearDown(ctx context.Context) error
}

// BaseFixture supplies the Type method so concrete fixtures only implement
// their lifecycle.
type BaseFixture struct{}

func (f *BaseFixture) Type() string {
	return fmt.Sprint(reflect.TypeOf(f).Elem())
}

func fixtureType(fixture Fixture) string {
	return fmt.Sprint(reflect.TypeOf(fixture).Elem())
}
