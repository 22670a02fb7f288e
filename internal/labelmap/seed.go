package labelmap

import (
	"fmt"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"pl2tfr/pkg/contract"
)

// 运行期构造 object_detection.protos.StringIntLabelMap 描述符，
// 仅用于解析既有标签映射文件（不依赖生成代码）。
var labelMapDesc = func() protoreflect.MessageDescriptor {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	repeated := descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("object_detection/protos/string_int_label_map.proto"),
		Package: proto.String("object_detection.protos"),
		Syntax:  proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("StringIntLabelMapItem"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("name"), JsonName: proto.String("name"), Number: proto.Int32(1), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()},
					{Name: proto.String("id"), JsonName: proto.String("id"), Number: proto.Int32(2), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum()},
					{Name: proto.String("display_name"), JsonName: proto.String("displayName"), Number: proto.Int32(3), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()},
				},
			},
			{
				Name: proto.String("StringIntLabelMap"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("item"), JsonName: proto.String("item"), Number: proto.Int32(1), Label: repeated, Type: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(), TypeName: proto.String(".object_detection.protos.StringIntLabelMapItem")},
				},
			},
		},
	}
	fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("labelmap: build descriptor: %v", err))
	}
	return fd.Messages().ByName("StringIntLabelMap")
}()

// Parse 解析 StringIntLabelMap 文本格式，返回已填充的索引。
// 后续新标签从 max(id)+1 起分配。
func Parse(data []byte) (*Index, error) {
	msg := dynamicpb.NewMessage(labelMapDesc)
	if err := prototext.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: label map: %v", contract.ErrInvalidInput, err)
	}
	itemFD := labelMapDesc.Fields().ByName("item")
	itemDesc := itemFD.Message()
	nameFD := itemDesc.Fields().ByName("name")
	idFD := itemDesc.Fields().ByName("id")

	x := New()
	list := msg.Get(itemFD).List()
	for i := 0; i < list.Len(); i++ {
		it := list.Get(i).Message()
		if err := x.seed(it.Get(nameFD).String(), it.Get(idFD).Int()); err != nil {
			return nil, err
		}
	}
	return x, nil
}
