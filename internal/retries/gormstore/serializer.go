package gormstore

import (
	"context"
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"
	"gorm.io/gorm/schema"

	"github.com/imrishuroy/go-route-retry/internal/retries"
)

func init() {
	schema.RegisterSerializer("params", paramsSerializer{})
}

// paramsSerializer stores request parameters as JSON text like the json
// serializer, but decodes integers as int64 instead of float64.
type paramsSerializer struct{}

func (paramsSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	var body map[string]any
	if dbValue != nil {
		var b []byte
		switch v := dbValue.(type) {
		case []byte:
			b = v
		case string:
			b = []byte(v)
		default:
			return fmt.Errorf("unmarshal params value: %#v", dbValue)
		}
		if len(b) > 0 {
			var err error
			if body, err = retries.DecodeParams(b); err != nil {
				return err
			}
		}
	}
	field.ReflectValueOf(ctx, dst).Set(reflect.ValueOf(body))
	return nil
}

func (paramsSerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	body, _ := fieldValue.(map[string]any)
	if body == nil {
		return nil, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
