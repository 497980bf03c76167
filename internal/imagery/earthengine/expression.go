package earthengine

import (
	"github.com/backyonatan-alt/sitewatch/internal/model"
)

// Value is one node of an Earth Engine expression graph.
type Value struct {
	ConstantValue           any         `json:"constantValue,omitempty"`
	FunctionInvocationValue *Invocation `json:"functionInvocationValue,omitempty"`
	ArrayValue              *Array      `json:"arrayValue,omitempty"`
}

// Invocation calls a named server-side algorithm.
type Invocation struct {
	FunctionName string           `json:"functionName"`
	Arguments    map[string]Value `json:"arguments"`
}

// Array is a list of expression values.
type Array struct {
	Values []Value `json:"values"`
}

// Expression is the serialized graph sent to the REST API.
type Expression struct {
	Result string           `json:"result"`
	Values map[string]Value `json:"values"`
}

// NewExpression wraps root as a single-node graph.
func NewExpression(root Value) Expression {
	return Expression{Result: "0", Values: map[string]Value{"0": root}}
}

func Constant(v any) Value {
	return Value{ConstantValue: v}
}

func Call(name string, args map[string]Value) Value {
	return Value{FunctionInvocationValue: &Invocation{FunctionName: name, Arguments: args}}
}

func List(values ...Value) Value {
	return Value{ArrayValue: &Array{Values: values}}
}

// Rectangle is a planar rectangle geometry covering b.
func Rectangle(b model.Bounds) Value {
	return Call("GeometryConstructors.Rectangle", map[string]Value{
		"coordinates": Constant([]float64{b.West, b.South, b.East, b.North}),
		"geodesic":    Constant(false),
	})
}

func LoadCollection(id string) Value {
	return Call("ImageCollection.load", map[string]Value{"id": Constant(id)})
}

func filter(collection, f Value) Value {
	return Call("Collection.filter", map[string]Value{"collection": collection, "filter": f})
}

func FilterBounds(collection, geometry Value) Value {
	return filter(collection, Call("Filter.intersects", map[string]Value{
		"leftField":  Constant(".all"),
		"rightValue": geometry,
	}))
}

// FilterDate keeps images whose system:time_start falls in [start, end).
func FilterDate(collection Value, start, end model.Date) Value {
	return filter(collection, Call("Filter.dateRangeContains", map[string]Value{
		"leftValue": Call("DateRange", map[string]Value{
			"start": Constant(start.String()),
			"end":   Constant(end.String()),
		}),
		"rightField": Constant("system:time_start"),
	}))
}

func FilterLessThan(collection Value, property string, limit float64) Value {
	return filter(collection, Call("Filter.lessThan", map[string]Value{
		"leftField":  Constant(property),
		"rightValue": Constant(limit),
	}))
}

func Size(collection Value) Value {
	return Call("Collection.size", map[string]Value{"collection": collection})
}

func AggregateMean(collection Value, property string) Value {
	return Call("AggregateFeatureCollection.mean", map[string]Value{
		"collection": collection,
		"property":   Constant(property),
	})
}

// Median reduces a collection to its per-pixel median composite.
func Median(collection Value) Value {
	return Call("reduce.median", map[string]Value{"collection": collection})
}

func Select(image Value, bands []string) Value {
	return Call("Image.select", map[string]Value{
		"input":         image,
		"bandSelectors": Constant(bands),
	})
}

func ConstantImage(v float64) Value {
	return Call("Image.constant", map[string]Value{"value": Constant(v)})
}

func binary(name string, a, b Value) Value {
	return Call(name, map[string]Value{"image1": a, "image2": b})
}

func Add(a, b Value) Value      { return binary("Image.add", a, b) }
func Subtract(a, b Value) Value { return binary("Image.subtract", a, b) }
func Multiply(a, b Value) Value { return binary("Image.multiply", a, b) }

func Clip(image, geometry Value) Value {
	return Call("Image.clip", map[string]Value{"input": image, "geometry": geometry})
}

func GaussianKernel(radius, sigma float64) Value {
	return Call("Kernel.gaussian", map[string]Value{
		"radius":    Constant(radius),
		"sigma":     Constant(sigma),
		"units":     Constant("pixels"),
		"normalize": Constant(true),
	})
}

func Convolve(image, kernel Value) Value {
	return Call("Image.convolve", map[string]Value{"image": image, "kernel": kernel})
}

// UnsharpMask computes image + (image - gaussian(image)) * amount.
func UnsharpMask(image Value, radius, sigma, amount float64) Value {
	blurred := Convolve(image, GaussianKernel(radius, sigma))
	return Add(image, Multiply(Subtract(image, blurred), ConstantImage(amount)))
}
