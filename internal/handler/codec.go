package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-store/internal/domain/cart"
	"github.com/xenking/kart-store/internal/domain/checkout"
	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/product"
)

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, p.Price) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.StockQuantity) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, o.Total) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("productName", func(e *jx.Encoder) { e.Str(it.ProductName) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { encodeMoney(e, it.UnitPrice) })
						e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, it.Subtotal()) })
					})
				}
			})
		})
		e.Field("customer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("email", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
				e.Field("name", func(e *jx.Encoder) { e.Str(o.Customer.Name) })
				e.Field("shippingAddress", func(e *jx.Encoder) { e.Str(o.Customer.ShippingAddress) })
			})
		})
		if o.PaymentRef != "" {
			e.Field("paymentRef", func(e *jx.Encoder) { e.Str(o.PaymentRef) })
		}
		e.Field("version", func(e *jx.Encoder) { e.Int64(o.Version) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
		e.Field("transitions", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, t := range o.Transitions {
					e.Obj(func(e *jx.Encoder) {
						e.Field("axis", func(e *jx.Encoder) { e.Str(string(t.Axis)) })
						e.Field("from", func(e *jx.Encoder) { e.Str(t.From) })
						e.Field("to", func(e *jx.Encoder) { e.Str(t.To) })
						e.Field("trigger", func(e *jx.Encoder) { e.Str(string(t.Trigger)) })
						e.Field("at", func(e *jx.Encoder) { encodeTime(e, t.At) })
					})
				}
			})
		})
	})
}

func encodeRefund(e *jx.Encoder, r order.Refund) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(r.ID) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(r.OrderID) })
		e.Field("amount", func(e *jx.Encoder) { encodeMoney(e, r.Amount) })
		e.Field("reason", func(e *jx.Encoder) { e.Str(r.Reason) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(r.Status)) })
		if r.ExternalRef != "" {
			e.Field("externalRef", func(e *jx.Encoder) { e.Str(r.ExternalRef) })
		}
		if r.FailureMsg != "" {
			e.Field("failureMessage", func(e *jx.Encoder) { e.Str(r.FailureMsg) })
		}
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, r.CreatedAt) })
	})
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, status, e.Bytes())
}

// decodeBody runs fn over the request body and tags failures as bad
// requests.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 4096)
	if err := fn(d); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return badRequest(errors.New("request body is empty or truncated"))
		}
		return badRequest(errors.Wrap(err, "decode body"))
	}
	return nil
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		return decimal.Zero, errInvalidNumber
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(errInvalidNumber, "%q", raw)
	}
	return v, nil
}

func decodeLine(d *jx.Decoder) (cart.Line, error) {
	var l cart.Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			l.ProductID, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return l, err
}

func decodeCustomer(d *jx.Decoder) (order.Customer, error) {
	var c order.Customer
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "email":
			c.Email, err = d.Str()
		case "name":
			c.Name, err = d.Str()
		case "shippingAddress":
			c.ShippingAddress, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return c, err
}

// decodeCheckout reads {"items": [{"productId", "quantity"}], "customer": {...}}.
func decodeCheckout(d *jx.Decoder, req *checkout.Request) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d)
				if err != nil {
					return err
				}
				req.Lines = append(req.Lines, l)
				return nil
			})
		case "customer":
			c, err := decodeCustomer(d)
			req.Customer = c
			return err
		default:
			return d.Skip()
		}
	})
}

// decodeStringField reads a single string field of an object.
func decodeStringField(d *jx.Decoder, field string, dst *string) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != field {
			return d.Skip()
		}
		v, err := d.Str()
		*dst = v
		return err
	})
}

type refundRequest struct {
	Amount decimal.Decimal
	Reason string
}

func decodeRefund(d *jx.Decoder, req *refundRequest) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "amount":
			req.Amount, err = decodeDecimal(d)
		case "reason":
			req.Reason, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

type callbackRequest struct {
	OrderID     string
	ExternalRef string
	Status      string
	Message     string
}

func decodeCallback(d *jx.Decoder, req *callbackRequest) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			req.OrderID, err = d.Str()
		case "externalRef":
			req.ExternalRef, err = d.Str()
		case "status":
			req.Status, err = d.Str()
		case "message":
			req.Message, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}
