package sqlnorm

import (
	pg_query "github.com/pganalyze/pg_query_go/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// walkNodes visits every pg_query Node reachable from root, depth-first.
// The parse tree is protobuf-backed, so a protoreflect traversal covers every
// node kind without enumerating the oneof by hand.
func walkNodes(root proto.Message, visit func(*pg_query.Node)) {
	if root == nil {
		return
	}
	walkMessage(root.ProtoReflect(), visit)
}

func walkMessage(m protoreflect.Message, visit func(*pg_query.Node)) {
	if !m.IsValid() {
		return
	}
	if n, ok := m.Interface().(*pg_query.Node); ok && n != nil {
		visit(n)
	}
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsList():
			if fd.Kind() != protoreflect.MessageKind {
				return true
			}
			l := v.List()
			for i := 0; i < l.Len(); i++ {
				walkMessage(l.Get(i).Message(), visit)
			}
		case fd.IsMap():
			// pg_query trees carry no map fields.
		case fd.Kind() == protoreflect.MessageKind:
			walkMessage(v.Message(), visit)
		}
		return true
	})
}
