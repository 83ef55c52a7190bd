package configloader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"buf.build/gen/go/bufbuild/protovalidate/protocolbuffers/go/buf/validate"
	"github.com/bufbuild/protovalidate-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	rulesPackage = "storage.config.v1"
	// GCS V4 签名 URL 的有效期上限为 7 天。
	maxSignedURLTTL = 7 * 24 * time.Hour
)

// bootstrapValidator 以 protovalidate 校验 Bootstrap。
// 校验规则以 buf.validate 选项声明在运行期构建的描述符上，Bootstrap 在校验前映射为对应的 dynamicpb 消息。
type bootstrapValidator struct {
	validator *protovalidate.Validator
	root      protoreflect.MessageDescriptor
}

var loadBootstrapValidator = sync.OnceValues(newBootstrapValidator)

func newBootstrapValidator() (*bootstrapValidator, error) {
	file, err := protodesc.NewFile(bootstrapRulesFile(), protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("build bootstrap descriptor: %w", err)
	}
	root := file.Messages().ByName("Bootstrap")
	if root == nil {
		return nil, errors.New("bootstrap descriptor missing root message")
	}
	validator, err := protovalidate.New(
		protovalidate.WithDescriptors(root),
		protovalidate.WithDisableLazy(true),
	)
	if err != nil {
		return nil, err
	}
	return &bootstrapValidator{validator: validator, root: root}, nil
}

// Validate 将 Bootstrap 映射为规则消息后交给 protovalidate 校验。
func (v *bootstrapValidator) Validate(b *Bootstrap) error {
	return v.validator.Validate(v.message(b))
}

func (v *bootstrapValidator) message(b *Bootstrap) proto.Message {
	root := dynamicpb.NewMessage(v.root)

	server := child(root, "server")
	setString(child(server, "http"), "addr", b.Server.HTTP.Addr)
	if !b.Server.Metrics.Disabled {
		setString(child(server, "metrics"), "path", b.Server.Metrics.Path)
	}

	pg := child(child(root, "data"), "postgres")
	setString(pg, "dsn", b.Data.Postgres.DSN)
	setInt32(pg, "max_open_conns", b.Data.Postgres.MaxOpenConns)
	setInt32(pg, "min_open_conns", b.Data.Postgres.MinOpenConns)
	setString(pg, "schema", b.Data.Postgres.Schema)

	st := child(root, "storage")
	setString(st, "driver", b.Storage.Driver)
	setString(st, "default_bucket", b.Storage.DefaultBucket)
	setInt64(st, "upload_url_ttl_ms", b.Storage.UploadURLTTL.Milliseconds())
	setInt64(st, "download_url_ttl_ms", b.Storage.DownloadURLTTL.Milliseconds())
	setInt32(st, "upload_concurrency", int32(b.Storage.UploadConcurrency))
	setInt64(st, "max_upload_bytes", b.Storage.MaxUploadBytes)
	setInt64(st, "max_request_bytes", b.Storage.MaxRequestBytes)
	setString(child(st, "s3"), "region", b.Storage.S3.Region)

	if tr := b.Observability.Tracing; tr != nil {
		tracing := child(child(root, "observability"), "tracing")
		tracing.Set(fieldByName(tracing, "sampling_ratio"), protoreflect.ValueOfFloat64(tr.SamplingRatio))
	}
	return root
}

func fieldByName(m protoreflect.Message, name string) protoreflect.FieldDescriptor {
	return m.Descriptor().Fields().ByName(protoreflect.Name(name))
}

func child(m protoreflect.Message, name string) protoreflect.Message {
	return m.Mutable(fieldByName(m, name)).Message()
}

func setString(m protoreflect.Message, name, value string) {
	m.Set(fieldByName(m, name), protoreflect.ValueOfString(value))
}

func setInt32(m protoreflect.Message, name string, value int32) {
	m.Set(fieldByName(m, name), protoreflect.ValueOfInt32(value))
}

func setInt64(m protoreflect.Message, name string, value int64) {
	m.Set(fieldByName(m, name), protoreflect.ValueOfInt64(value))
}

// bootstrapRulesFile 描述与 Bootstrap 对齐的规则消息，字段名与 YAML 键保持一致以便错误信息直接指向配置路径。
func bootstrapRulesFile() *descriptorpb.FileDescriptorProto {
	ttl := &validate.FieldConstraints{Type: &validate.FieldConstraints_Int64{Int64: &validate.Int64Rules{
		GreaterThan: &validate.Int64Rules_Gt{Gt: 0},
		LessThan:    &validate.Int64Rules_Lte{Lte: maxSignedURLTTL.Milliseconds()},
	}}}
	positive64 := &validate.FieldConstraints{Type: &validate.FieldConstraints_Int64{Int64: &validate.Int64Rules{
		GreaterThan: &validate.Int64Rules_Gt{Gt: 0},
	}}}
	nonNegative32 := &validate.FieldConstraints{Type: &validate.FieldConstraints_Int32{Int32: &validate.Int32Rules{
		GreaterThan: &validate.Int32Rules_Gte{Gte: 0},
	}}}

	messages := []*descriptorpb.DescriptorProto{
		message("Bootstrap", nil,
			messageField("server", 1, "Server"),
			messageField("data", 2, "Data"),
			messageField("storage", 3, "Storage"),
			messageField("observability", 4, "Observability"),
		),
		message("Server", nil,
			messageField("http", 1, "Http"),
			messageField("metrics", 2, "Metrics"),
		),
		message("Http", nil,
			scalarField("addr", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, &validate.FieldConstraints{
				Type: &validate.FieldConstraints_String_{String_: &validate.StringRules{MinLen: proto.Uint64(1)}},
			}),
		),
		message("Metrics", nil,
			scalarField("path", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, &validate.FieldConstraints{
				Type: &validate.FieldConstraints_String_{String_: &validate.StringRules{Prefix: proto.String("/")}},
			}),
		),
		message("Data", nil,
			messageField("postgres", 1, "Postgres"),
		),
		message("Postgres", &validate.MessageConstraints{Cel: []*validate.Constraint{{
			Id:         proto.String("postgres.pool_bounds"),
			Message:    proto.String("min_open_conns must not exceed max_open_conns"),
			Expression: proto.String("this.max_open_conns == 0 || this.min_open_conns <= this.max_open_conns"),
		}}},
			scalarField("dsn", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, &validate.FieldConstraints{
				Cel: []*validate.Constraint{{
					Id:         proto.String("postgres.dsn_required"),
					Message:    proto.String("dsn is required (set DATABASE_URL)"),
					Expression: proto.String(`this.matches('\\S')`),
				}},
			}),
			scalarField("max_open_conns", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32, nonNegative32),
			scalarField("min_open_conns", 3, descriptorpb.FieldDescriptorProto_TYPE_INT32, nonNegative32),
			scalarField("schema", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING, &validate.FieldConstraints{
				Type: &validate.FieldConstraints_String_{String_: &validate.StringRules{Pattern: proto.String(`^[A-Za-z_][A-Za-z0-9_]*$`)}},
			}),
		),
		message("Storage", &validate.MessageConstraints{Cel: []*validate.Constraint{
			{
				Id:         proto.String("storage.s3_region"),
				Message:    proto.String("s3.region is required when driver is s3"),
				Expression: proto.String("this.driver != 's3' || this.s3.region != ''"),
			},
			{
				Id:         proto.String("storage.request_covers_file"),
				Message:    proto.String("max_request_bytes must be at least max_upload_bytes"),
				Expression: proto.String("this.max_request_bytes >= this.max_upload_bytes"),
			},
		}},
			scalarField("driver", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, &validate.FieldConstraints{
				Type: &validate.FieldConstraints_String_{String_: &validate.StringRules{In: []string{DriverGCS, DriverS3}}},
			}),
			scalarField("default_bucket", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING, &validate.FieldConstraints{
				Cel: []*validate.Constraint{{
					Id:         proto.String("storage.default_bucket_required"),
					Message:    proto.String("default_bucket is required (set STORAGE_BUCKET)"),
					Expression: proto.String(`this.matches('\\S')`),
				}},
			}),
			scalarField("upload_url_ttl_ms", 3, descriptorpb.FieldDescriptorProto_TYPE_INT64, ttl),
			scalarField("download_url_ttl_ms", 4, descriptorpb.FieldDescriptorProto_TYPE_INT64, ttl),
			scalarField("upload_concurrency", 5, descriptorpb.FieldDescriptorProto_TYPE_INT32, &validate.FieldConstraints{
				Type: &validate.FieldConstraints_Int32{Int32: &validate.Int32Rules{GreaterThan: &validate.Int32Rules_Gt{Gt: 0}}},
			}),
			scalarField("max_upload_bytes", 6, descriptorpb.FieldDescriptorProto_TYPE_INT64, positive64),
			scalarField("max_request_bytes", 7, descriptorpb.FieldDescriptorProto_TYPE_INT64, positive64),
			messageField("s3", 8, "S3"),
		),
		message("S3", nil,
			scalarField("region", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, nil),
		),
		message("Observability", nil,
			messageField("tracing", 1, "Tracing"),
		),
		message("Tracing", nil,
			scalarField("sampling_ratio", 1, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE, &validate.FieldConstraints{
				Type: &validate.FieldConstraints_Double{Double: &validate.DoubleRules{
					GreaterThan: &validate.DoubleRules_Gte{Gte: 0},
					LessThan:    &validate.DoubleRules_Lte{Lte: 1},
				}},
			}),
		),
	}

	return &descriptorpb.FileDescriptorProto{
		Name:        proto.String("storage/config/v1/bootstrap_rules.proto"),
		Package:     proto.String(rulesPackage),
		Syntax:      proto.String("proto3"),
		MessageType: messages,
	}
}

func message(name string, rules *validate.MessageConstraints, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	msg := &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
	if rules != nil {
		opts := &descriptorpb.MessageOptions{}
		proto.SetExtension(opts, validate.E_Message, rules)
		msg.Options = opts
	}
	return msg
}

func messageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	fd := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, nil)
	fd.TypeName = proto.String("." + rulesPackage + "." + typeName)
	return fd
}

func scalarField(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, rules *validate.FieldConstraints) *descriptorpb.FieldDescriptorProto {
	fd := &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     typ.Enum(),
		JsonName: proto.String(name),
	}
	if rules != nil {
		opts := &descriptorpb.FieldOptions{}
		proto.SetExtension(opts, validate.E_Field, rules)
		fd.Options = opts
	}
	return fd
}
