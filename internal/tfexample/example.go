// Package tfexample 编解码 tensorflow.Example（Features/Feature/三种 List）。
//
// 消息定义与 tensorflow/core/example/{example,feature}.proto 一致：
//
//	Example   { Features features = 1; }
//	Features  { map<string, Feature> feature = 1; }
//	Feature   { oneof kind { BytesList bytes_list = 1; FloatList float_list = 2; Int64List int64_list = 3; } }
//	BytesList { repeated bytes value = 1; }
//	FloatList { repeated float value = 1 [packed = true]; }
//	Int64List { repeated int64 value = 1 [packed = true]; }
//
// 描述符在运行期构造，消息以 dynamicpb 承载，经 protobuf 库确定性序列化。
package tfexample

import (
	"fmt"

	"github.com/golang/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"pl2tfr/pkg/contract"
)

// Kind: Feature 取值类型（数值即 oneof 字段号）。
type Kind int

const (
	KindBytes Kind = iota + 1
	KindFloat
	KindInt64
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes_list"
	case KindFloat:
		return "float_list"
	case KindInt64:
		return "int64_list"
	default:
		return "unset"
	}
}

// Feature: 单个特征（仅 Kind 对应的切片有效）。
type Feature struct {
	Kind   Kind
	Bytes  [][]byte
	Floats []float32
	Int64s []int64
}

// BytesFeature 构造 bytes_list 特征。
func BytesFeature(v ...[]byte) Feature { return Feature{Kind: KindBytes, Bytes: v} }

// StringFeature 以 UTF-8 字节构造 bytes_list 特征。
func StringFeature(v ...string) Feature {
	b := make([][]byte, len(v))
	for i, s := range v {
		b[i] = []byte(s)
	}
	return Feature{Kind: KindBytes, Bytes: b}
}

// FloatFeature 构造 float_list 特征。
func FloatFeature(v ...float32) Feature { return Feature{Kind: KindFloat, Floats: v} }

// Int64Feature 构造 int64_list 特征。
func Int64Feature(v ...int64) Feature { return Feature{Kind: KindInt64, Int64s: v} }

// Len 返回取值个数。
func (f Feature) Len() int {
	switch f.Kind {
	case KindBytes:
		return len(f.Bytes)
	case KindFloat:
		return len(f.Floats)
	case KindInt64:
		return len(f.Int64s)
	default:
		return 0
	}
}

// Example: 一条训练样本。
type Example struct {
	Features map[string]Feature
}

// New 创建空样本。
func New() *Example { return &Example{Features: make(map[string]Feature)} }

// Set 设置特征（同名覆盖）。
func (e *Example) Set(name string, f Feature) { e.Features[name] = f }

// 运行期描述符
var (
	exampleDesc  protoreflect.MessageDescriptor
	featuresFD   protoreflect.FieldDescriptor // Example.features
	featureMapFD protoreflect.FieldDescriptor // Features.feature
	kindOneof    protoreflect.OneofDescriptor // Feature.kind
)

func init() {
	fd, err := protodesc.NewFile(exampleFile(), new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("tfexample: build descriptor: %v", err))
	}
	exampleDesc = fd.Messages().ByName("Example")
	featuresFD = exampleDesc.Fields().ByName("features")
	featureMapFD = featuresFD.Message().Fields().ByName("feature")
	kindOneof = featureMapFD.MapValue().Message().Oneofs().ByName("kind")
}

func exampleFile() *descriptorpb.FileDescriptorProto {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	repeated := descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	msgType := descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
	packed := &descriptorpb.FieldOptions{Packed: proto.Bool(true)}
	list := func(name string, typ descriptorpb.FieldDescriptorProto_Type, opts *descriptorpb.FieldOptions) *descriptorpb.DescriptorProto {
		return &descriptorpb.DescriptorProto{
			Name: proto.String(name),
			Field: []*descriptorpb.FieldDescriptorProto{
				{Name: proto.String("value"), Number: proto.Int32(1), Label: repeated, Type: typ.Enum(), Options: opts},
			},
		}
	}
	kind := func(name string, num int32, typeName string) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name: proto.String(name), Number: proto.Int32(num), Label: optional, Type: msgType,
			TypeName: proto.String(typeName), OneofIndex: proto.Int32(0),
		}
	}
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("tensorflow/core/example/example.proto"),
		Package: proto.String("tensorflow"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			list("BytesList", descriptorpb.FieldDescriptorProto_TYPE_BYTES, nil),
			list("FloatList", descriptorpb.FieldDescriptorProto_TYPE_FLOAT, packed),
			list("Int64List", descriptorpb.FieldDescriptorProto_TYPE_INT64, packed),
			{
				Name: proto.String("Feature"),
				Field: []*descriptorpb.FieldDescriptorProto{
					kind("bytes_list", 1, ".tensorflow.BytesList"),
					kind("float_list", 2, ".tensorflow.FloatList"),
					kind("int64_list", 3, ".tensorflow.Int64List"),
				},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("kind")}},
			},
			{
				Name: proto.String("Features"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("feature"), Number: proto.Int32(1), Label: repeated, Type: msgType, TypeName: proto.String(".tensorflow.Features.FeatureEntry")},
				},
				NestedType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("FeatureEntry"),
						Field: []*descriptorpb.FieldDescriptorProto{
							{Name: proto.String("key"), Number: proto.Int32(1), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()},
							{Name: proto.String("value"), Number: proto.Int32(2), Label: optional, Type: msgType, TypeName: proto.String(".tensorflow.Feature")},
						},
						Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
					},
				},
			},
			{
				Name: proto.String("Example"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("features"), Number: proto.Int32(1), Label: optional, Type: msgType, TypeName: proto.String(".tensorflow.Features")},
				},
			},
		},
	}
}

// Message 转为 tensorflow.Example 动态消息。
func (e *Example) Message() protoreflect.Message {
	m := dynamicpb.NewMessage(exampleDesc)
	fm := m.Mutable(featuresFD).Message().Mutable(featureMapFD).Map()
	for name, f := range e.Features {
		v := fm.NewValue()
		f.fill(v.Message())
		fm.Set(protoreflect.ValueOfString(name).MapKey(), v)
	}
	return m
}

func (f Feature) fill(m protoreflect.Message) {
	fd := kindOneof.Fields().ByNumber(protoreflect.FieldNumber(f.Kind))
	if fd == nil {
		return
	}
	lm := m.Mutable(fd).Message()
	list := lm.Mutable(lm.Descriptor().Fields().ByNumber(1)).List()
	switch f.Kind {
	case KindBytes:
		for _, b := range f.Bytes {
			list.Append(protoreflect.ValueOfBytes(b))
		}
	case KindFloat:
		for _, x := range f.Floats {
			list.Append(protoreflect.ValueOfFloat32(x))
		}
	case KindInt64:
		for _, x := range f.Int64s {
			list.Append(protoreflect.ValueOfInt64(x))
		}
	}
}

// Marshal 序列化为 protobuf 线格式。map 按键升序输出，结果确定。
func (e *Example) Marshal() ([]byte, error) {
	buf := proto.NewBuffer(nil)
	buf.SetDeterministic(true)
	if err := buf.Marshal(proto.MessageV1(e.Message())); err != nil {
		return nil, fmt.Errorf("tfexample: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal 解析 protobuf 线格式；未知字段忽略，重复标量同时接受 packed 与非 packed。
func Unmarshal(b []byte) (*Example, error) {
	m := dynamicpb.NewMessage(exampleDesc)
	if err := proto.Unmarshal(b, proto.MessageV1(m)); err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrRecordCorrupt, err)
	}
	e := New()
	if !m.Has(featuresFD) {
		return e, nil
	}
	m.Get(featuresFD).Message().Get(featureMapFD).Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		e.Features[k.String()] = featureOf(v.Message())
		return true
	})
	return e, nil
}

func featureOf(m protoreflect.Message) Feature {
	fd := m.WhichOneof(kindOneof)
	if fd == nil {
		return Feature{}
	}
	f := Feature{Kind: Kind(fd.Number())}
	lm := m.Get(fd).Message()
	list := lm.Get(lm.Descriptor().Fields().ByNumber(1)).List()
	for i := 0; i < list.Len(); i++ {
		v := list.Get(i)
		switch f.Kind {
		case KindBytes:
			f.Bytes = append(f.Bytes, append([]byte(nil), v.Bytes()...))
		case KindFloat:
			f.Floats = append(f.Floats, float32(v.Float()))
		case KindInt64:
			f.Int64s = append(f.Int64s, v.Int())
		}
	}
	return f
}
