package config

import (
	"strings"

	"github.com/hashicorp/hcl/hcl/ast"
	"github.com/juju/errors"
)

// Forwarder parameters are read from the syntax tree rather than decoded into
// structs, because `field-<name>` keys are open-ended.
// Accepted shapes (HCL and JSON, the latter after HCL flattening):
//
//	devices "name" { forwarders = [ {...}, ... ] }
//	devices "name" { forwarders { ... } forwarders { ... } }
//	{"devices": {"name": {"forwarders": [ {...} ]}}}
func (c *Config) readDevices(file *ast.File) error {
	root, ok := file.Node.(*ast.ObjectList)
	if !ok {
		return errors.NotValidf("config root node=%T", file.Node)
	}
	return c.walkDevices(root.Filter("devices"))
}

func (c *Config) walkDevices(list *ast.ObjectList) error {
	for _, item := range list.Items {
		keys := itemKeys(item)
		if len(keys) == 0 {
			ot, ok := item.Val.(*ast.ObjectType)
			if !ok {
				return errors.NotValidf("devices value at %s", item.Pos())
			}
			if err := c.walkDevices(ot.List); err != nil {
				return err
			}
			continue
		}
		name := keys[0]
		objs, err := forwarderObjects(keys[1:], item.Val)
		if err != nil {
			return errors.Annotatef(err, "device=%s", name)
		}
		if _, ok := c.deviceParams[name]; !ok {
			c.deviceParams[name] = make([]map[string]interface{}, 0, len(objs))
		}
		for _, ot := range objs {
			params, err := objectParams(ot)
			if err != nil {
				return errors.Annotatef(err, "device=%s", name)
			}
			c.deviceParams[name] = append(c.deviceParams[name], params)
		}
	}
	return nil
}

func forwarderObjects(keys []string, val ast.Node) ([]*ast.ObjectType, error) {
	if len(keys) == 0 {
		body, ok := val.(*ast.ObjectType)
		if !ok {
			return nil, errors.NotValidf("device body=%T", val)
		}
		result := make([]*ast.ObjectType, 0, len(body.List.Items))
		for _, item := range body.List.Items {
			sub := itemKeys(item)
			if len(sub) == 0 || sub[0] != "forwarders" {
				continue
			}
			objs, err := forwarderObjects(sub, item.Val)
			if err != nil {
				return nil, err
			}
			result = append(result, objs...)
		}
		return result, nil
	}

	if keys[0] != "forwarders" || len(keys) > 1 {
		return nil, errors.NotValidf("key=%s", strings.Join(keys, "."))
	}
	switch v := val.(type) {
	case *ast.ObjectType:
		return []*ast.ObjectType{v}, nil
	case *ast.ListType:
		result := make([]*ast.ObjectType, 0, len(v.List))
		for _, elem := range v.List {
			ot, ok := elem.(*ast.ObjectType)
			if !ok {
				return nil, errors.NotValidf("forwarders element=%T at %s", elem, elem.Pos())
			}
			result = append(result, ot)
		}
		return result, nil
	}
	return nil, errors.NotValidf("forwarders value=%T", val)
}

func objectParams(ot *ast.ObjectType) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(ot.List.Items))
	for _, item := range ot.List.Items {
		key := strings.Join(itemKeys(item), ".")
		lit, ok := item.Val.(*ast.LiteralType)
		if !ok {
			return nil, errors.NotValidf("forwarder key=%s value=%T", key, item.Val)
		}
		params[key] = lit.Token.Value()
	}
	return params, nil
}

func itemKeys(item *ast.ObjectItem) []string {
	keys := make([]string, 0, len(item.Keys))
	for _, k := range item.Keys {
		if s, ok := k.Token.Value().(string); ok {
			keys = append(keys, s)
		} else {
			keys = append(keys, k.Token.Text)
		}
	}
	return keys
}
