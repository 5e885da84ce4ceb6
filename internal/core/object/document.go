package object

import (
	"encoding/base64"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/internal/core/scene"
)

// Document is the YAML form of a set of object templates.
type Document struct {
	Templates []TemplateDocument `yaml:"templates"`
}

type TemplateDocument struct {
	Name           string                      `yaml:"name"`
	DisplayName    string                      `yaml:"display_name,omitempty"`
	NetworkingType network.Type                `yaml:"networking_type"`
	Parent         string                      `yaml:"parent,omitempty"`
	Runtime        bool                        `yaml:"runtime,omitempty"`
	Transform      scene.Transform             `yaml:"transform"`
	Components     []ComponentTemplateDocument `yaml:"components,omitempty"`
}

type ComponentTemplateDocument struct {
	Type          string             `yaml:"type"`
	Name          string             `yaml:"name,omitempty"`
	LocalOverride bool               `yaml:"local_override,omitempty"`
	Properties    []PropertyDocument `yaml:"properties,omitempty"`
}

// PropertyDocument carries the kind next to the value so that ints, floats
// and vectors survive the round trip. Bytes are base64 encoded.
type PropertyDocument struct {
	Name  string    `yaml:"name"`
	Kind  string    `yaml:"kind"`
	Value yaml.Node `yaml:"value"`
}

func encodeProperty(name string, v property.Value) (PropertyDocument, error) {
	doc := PropertyDocument{Name: name, Kind: v.Kind().String()}
	var raw any = v.Interface()
	if v.Kind() == property.Bytes {
		raw = base64.StdEncoding.EncodeToString(v.Bytes())
	}
	if err := doc.Value.Encode(raw); err != nil {
		return doc, errors.Wrap(errors.CodeInvalidParams, "object.encodeProperty", err, "property "+name)
	}
	return doc, nil
}

func (d PropertyDocument) decode() (property.Value, error) {
	const op = "PropertyDocument.decode"
	kind, err := property.ParseKind(d.Kind)
	if err != nil {
		return property.Value{}, err
	}
	var v property.Value
	switch kind {
	case property.Bool:
		var b bool
		err = d.Value.Decode(&b)
		v = property.BoolValue(b)
	case property.Int:
		var i int64
		err = d.Value.Decode(&i)
		v = property.IntValue(i)
	case property.Float:
		var f float64
		err = d.Value.Decode(&f)
		v = property.FloatValue(f)
	case property.String:
		var s string
		err = d.Value.Decode(&s)
		v = property.StringValue(s)
	case property.Vector3:
		var vec scene.Vector3
		err = d.Value.Decode(&vec)
		v = property.Vector3Value(vec)
	case property.Bytes:
		var s string
		if err = d.Value.Decode(&s); err == nil {
			var b []byte
			b, err = base64.StdEncoding.DecodeString(s)
			v = property.BytesValue(b)
		}
	}
	if err != nil {
		return property.Value{}, errors.Wrap(errors.CodeInvalidParams, op, err, "property "+d.Name)
	}
	return v, nil
}

// Snapshot describes every template in creation order.
func (tm *TemplateManager) Snapshot() (Document, error) {
	var doc Document
	for _, ot := range tm.templates.Values() {
		td := TemplateDocument{
			Name:           ot.name,
			DisplayName:    ot.displayName,
			NetworkingType: ot.networkingType,
			Runtime:        ot.runtime,
			Transform:      ot.node.LocalTransform(),
		}
		if p := ot.Parent(); p != nil {
			td.Parent = p.name
		}
		for _, ct := range ot.components.Values() {
			cd := ComponentTemplateDocument{Type: ct.typ, Name: ct.name, LocalOverride: ct.localOverride}
			for name, v := range ct.properties.All() {
				pd, err := encodeProperty(name, v)
				if err != nil {
					return Document{}, err
				}
				cd.Properties = append(cd.Properties, pd)
			}
			td.Components = append(td.Components, cd)
		}
		doc.Templates = append(doc.Templates, td)
	}
	return doc, nil
}

// Export renders Snapshot as YAML.
func (tm *TemplateManager) Export() ([]byte, error) {
	doc, err := tm.Snapshot()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

// Import parses a YAML document and loads it.
func (tm *TemplateManager) Import(data []byte) ([]*ObjectTemplate, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.CodeInvalidParams, "TemplateManager.Import", err, "decode template document")
	}
	return tm.Load(doc)
}

func (tm *TemplateManager) ImportFile(path string) ([]*ObjectTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInvalidParams, "TemplateManager.ImportFile", err, path)
	}
	return tm.Import(data)
}

// Load creates the templates of doc. Parents are resolved once every
// template exists, so the order inside the document does not matter. When
// anything fails the templates created so far are destroyed again.
func (tm *TemplateManager) Load(doc Document) ([]*ObjectTemplate, error) {
	created := make([]*ObjectTemplate, 0, len(doc.Templates))
	err := func() error {
		for _, td := range doc.Templates {
			ot, err := tm.CreateObjectTemplate(td.Name, td.NetworkingType, td.DisplayName, network.Unassigned)
			if err != nil {
				return err
			}
			created = append(created, ot)
			ot.runtime = td.Runtime
			ot.node.SetLocalTransform(td.Transform)
			for _, cd := range td.Components {
				if err := ot.loadComponentTemplate(cd); err != nil {
					return err
				}
			}
		}
		for i, td := range doc.Templates {
			if td.Parent == "" {
				continue
			}
			if err := created[i].ParentByName(td.Parent); err != nil {
				return err
			}
			if created[i].queuedParent != "" {
				return errors.ItemNotFound("TemplateManager.Load", "parent %q of template %q does not exist", td.Parent, td.Name)
			}
		}
		return nil
	}()
	if err != nil {
		for i := len(created) - 1; i >= 0; i-- {
			if !created[i].destroyed {
				_ = tm.DestroyObjectTemplate(created[i], tm.id.Server)
			}
		}
		return nil, err
	}
	return created, nil
}

func (ot *ObjectTemplate) loadComponentTemplate(cd ComponentTemplateDocument) error {
	ct, err := ot.CreateComponentTemplate(cd.Type, cd.Name, cd.LocalOverride, network.Unassigned)
	if err != nil {
		return err
	}
	for _, pd := range cd.Properties {
		v, err := pd.decode()
		if err != nil {
			return err
		}
		if err := ct.SetTemplateProperty(pd.Name, v); err != nil {
			return err
		}
	}
	return nil
}
