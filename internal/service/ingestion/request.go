package ingestion

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Request: заказ, присланный витриной.
type Request struct {
	APIKey          string           `json:"apiKey"`
	ExternalOrderID string           `json:"externalOrderId" validate:"max=128"`
	Source          string           `json:"source" validate:"max=64"`
	Customer        CustomerPayload  `json:"customer"`
	Items           []ItemPayload    `json:"items" validate:"required,min=1,dive"`
	TotalAmount     *decimal.Decimal `json:"totalAmount,omitempty" validate:"omitempty,gte=0"`
	IdempotencyKey  string           `json:"idempotencyKey" validate:"max=128"`
}

// CustomerPayload: контакты покупателя.
type CustomerPayload struct {
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"required,max=32"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address" validate:"max=500"`
}

// ItemPayload: позиция заказа.
type ItemPayload struct {
	Name     string          `json:"name" validate:"required,max=200"`
	Quantity int             `json:"quantity" validate:"gt=0"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// decimal проверяется числовыми тегами как float64.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// validationError переводит ошибки validator в доменную ValidationError.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	vErr := &domain.ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Request.")
		vErr.Fields[field] = fieldMessage(fe)
	}
	return vErr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must contain at least " + fe.Param() + " entries"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	default:
		return "is invalid"
	}
}

func (r Request) items() []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, domain.NewOrderItem(item.Name, item.Quantity, item.Price))
	}
	return items
}
