// Package event parses change-event batches from the store's change stream.
//
// A batch carries DynamoDB-stream-shaped records; only INSERT records are
// consumed by the workers. Attribute values arrive in the wire encoding
// {"S": ...} / {"N": ...} / {"M": {...}} and are reduced to typed accessors
// here so the rest of the code never touches the raw shape.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/quantops/vixroll/internal/models"
)

// EventInsert is the only record type the workers act on.
const EventInsert = "INSERT"

// Attribute is a single attribute value in the stream's wire encoding.
type Attribute struct {
	S string               `json:"S,omitempty"`
	N string               `json:"N,omitempty"`
	M map[string]Attribute `json:"M,omitempty"`
}

// Text returns the attribute as a string, whichever encoding carried it.
func (a Attribute) Text() string {
	if a.S != "" {
		return a.S
	}
	return a.N
}

// Int returns the attribute as an integer.
func (a Attribute) Int() (int, error) {
	v := a.Text()
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("attribute %q is not an integer: %w", v, err)
	}
	return n, nil
}

// Change carries the keys and full row of a single table mutation.
type Change struct {
	Keys     map[string]Attribute `json:"Keys"`
	NewImage map[string]Attribute `json:"NewImage"`
}

// Record is one table mutation in a batch.
type Record struct {
	EventName string `json:"eventName"`
	Change    Change `json:"dynamodb"`
}

// Batch is the unit of work delivered to a worker.
type Batch struct {
	Records []Record `json:"Records"`
}

// Parse decodes a raw batch payload.
func Parse(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing event batch: %w", err)
	}
	return &b, nil
}

// Inserts returns only the INSERT records of the batch.
func (b *Batch) Inserts() []Record {
	var out []Record
	for _, r := range b.Records {
		if r.EventName == EventInsert {
			out = append(out, r)
		}
	}
	return out
}

// QuoteKey extracts the (Symbol, Date) primary key of a quote record.
func (r Record) QuoteKey() (symbol, date string, err error) {
	symbol = r.Change.Keys["Symbol"].Text()
	date = r.Change.Keys["Date"].Text()
	if symbol == "" || date == "" {
		return "", "", fmt.Errorf("quote record missing Symbol/Date keys")
	}
	return symbol, date, nil
}

// Order decodes the full order row carried in the record's NewImage.
func (r Record) Order() (*models.Order, error) {
	img := r.Change.NewImage
	if len(img) == 0 {
		return nil, fmt.Errorf("order record has no NewImage")
	}

	o := &models.Order{
		OrderID:         img["OrderId"].Text(),
		TransactionTime: img["TransactionTime"].Text(),
		Symbol:          img["Symbol"].Text(),
		Broker:          img["Broker"].Text(),
		Maturity:        img["Maturity"].Text(),
		ProductType:     img["ProductType"].Text(),
		Status:          models.OrderStatus(img["Status"].Text()),
	}
	if o.OrderID == "" || o.TransactionTime == "" {
		return nil, fmt.Errorf("order record missing OrderId/TransactionTime")
	}

	details := img["Order"].M
	size, err := details["Size"].Int()
	if err != nil {
		return nil, err
	}
	stop, err := details["StopDistance"].Int()
	if err != nil {
		return nil, err
	}
	o.Details = models.OrderDetails{
		Side:         models.Side(details["Side"].Text()),
		Size:         size,
		OrdType:      models.OrdType(details["OrdType"].Text()),
		StopDistance: stop,
	}

	if tag := img["Strategy"].M; tag != nil {
		o.Strategy = models.StrategyTag{
			Name:   tag["Name"].Text(),
			Reason: models.Reason(tag["Reason"].Text()),
		}
	}
	return o, nil
}
