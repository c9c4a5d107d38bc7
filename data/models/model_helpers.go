package models

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator"
)

type Model interface {
	TableName() string
	ColumnNames() []string
	GetID() int64
}

// RowScanner is satisfied by both *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...interface{}) error
}

// go-playground/validator suggests using a single instance of the validator.
var validate = validator.New()

// ValidateModel validates a model using the go-playground/validator package. It
// returns an error if the provided argument does not implement the Model
// interface.
func ValidateModel(model interface{}) error {
	m, ok := model.(Model)
	if !ok {
		return fmt.Errorf("expected model, got %T", model)
	}

	if err := validate.Struct(m); err != nil {
		return err
	}
	return nil
}

// GetValsFromModel returns the writable field values of a model as a slice of
// interfaces, in the order of the model's column names. Ensure the model has
// been validated using ValidateModel before calling.
func GetValsFromModel(m Model) []interface{} {
	val := reflect.Indirect(reflect.ValueOf(m))
	typ := val.Type()

	fieldMap := make(map[string]interface{})
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !isColumn(field) || isReadOnly(field) {
			continue
		}
		fieldMap[field.Tag.Get("db")] = val.Field(i).Interface()
	}

	columnNames := m.ColumnNames()
	vals := make([]interface{}, len(columnNames))
	for i, cn := range columnNames {
		vals[i] = fieldMap[cn]
	}

	return vals
}

// ScanRowToModel scans a single SQL row into a given model. The row must have
// been selected with SelectColumns so the column order matches the struct.
// It returns an error if the scan fails or the model is not a pointer.
func ScanRowToModel(m Model, r RowScanner) error {
	val := reflect.ValueOf(m)
	if val.Kind() != reflect.Ptr {
		return fmt.Errorf("expected pointer to struct, got %s", val.Kind())
	}
	val = val.Elem()
	typ := val.Type()

	fieldPtrs := make([]interface{}, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		if !isColumn(typ.Field(i)) {
			continue
		}
		fieldPtrs = append(fieldPtrs, val.Field(i).Addr().Interface())
	}

	return r.Scan(fieldPtrs...)
}

// GetColumnNames returns the db column names of a model in field declaration
// order. Fields tagged db:"-" are never columns; readOnly fields (managed by
// the db) are skipped when excludeReadOnly is set.
func GetColumnNames(m Model, excludeReadOnly bool) []string {
	typ := reflect.Indirect(reflect.ValueOf(m)).Type()
	var columnNames []string

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !isColumn(field) {
			continue
		}
		if excludeReadOnly && isReadOnly(field) {
			continue
		}
		columnNames = append(columnNames, field.Tag.Get("db"))
	}
	return columnNames
}

// SelectColumns returns the comma separated column list used to read a whole
// model, optionally qualified with a table alias.
func SelectColumns(m Model, alias string) string {
	cols := GetColumnNames(m, false)
	if alias != "" {
		for i, c := range cols {
			cols[i] = alias + "." + c
		}
	}
	return strings.Join(cols, ", ")
}

// MapJsonTagsToDB returns a map of the model's field tags where key is JSON
// and value is DB. Fields without a column are left out.
func MapJsonTagsToDB(m Model) map[string]string {
	typ := reflect.Indirect(reflect.ValueOf(m)).Type()
	tagMap := make(map[string]string)

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !isColumn(field) {
			continue
		}
		jsonTag := strings.Split(field.Tag.Get("json"), ",")[0]
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		tagMap[jsonTag] = field.Tag.Get("db")
	}
	return tagMap
}

func isColumn(field reflect.StructField) bool {
	tag := field.Tag.Get("db")
	return tag != "" && tag != "-"
}

func isReadOnly(field reflect.StructField) bool {
	return field.Tag.Get("readOnly") == "true"
}
