package stdx

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errTest = errors.New("test error")

func TestMust0(t *testing.T) {
	assert.NotPanics(t, func() { Must0(nil) })
	assert.PanicsWithError(t, errTest.Error(), func() { Must0(errTest) })
}

func TestMust1(t *testing.T) {
	assert.Equal(t, 8080, Must1(strconv.Atoi("8080")))
	assert.Panics(t, func() { Must1(strconv.Atoi("http")) })
}

func TestMust2(t *testing.T) {
	a, b := Must2("host", 8080, nil)
	assert.Equal(t, "host", a)
	assert.Equal(t, 8080, b)
	assert.PanicsWithError(t, errTest.Error(), func() { Must2("host", 8080, errTest) })
}
