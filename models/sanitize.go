package models

import "github.com/microcosm-cc/bluemonday"

var sanitizer *bluemonday.Policy

func init() {
	sanitizer = bluemonday.StrictPolicy()
}
