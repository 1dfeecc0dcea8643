package image

// The YAML document model. Field names are short because bodies dominate
// image size.

type moduleDoc struct {
	Name           string         `yaml:"name"`
	Machine        string         `yaml:"machine"`
	RuntimeVersion string         `yaml:"runtime"`
	Assembly       *assemblyDoc   `yaml:"assembly,omitempty"`
	Attributes     []attributeDoc `yaml:"attributes,omitempty"`
	EntryPoint     uint32         `yaml:"entry,omitempty"`
	Types          []typeDefDoc   `yaml:"types"`
	MemberRefs     []memberRefDoc `yaml:"refs,omitempty"`
}

type assemblyDoc struct {
	Name       string         `yaml:"name"`
	Version    string         `yaml:"version,omitempty"`
	Attributes []attributeDoc `yaml:"attributes,omitempty"`
}

type attributeDoc struct {
	Type string   `yaml:"type"`
	Args []string `yaml:"args,omitempty"`
}

type typeDefDoc struct {
	RID        uint32      `yaml:"rid"`
	Namespace  string      `yaml:"ns,omitempty"`
	Name       string      `yaml:"name"`
	Visibility string      `yaml:"vis"`
	Kind       string      `yaml:"kind,omitempty"`
	BaseType   string      `yaml:"base,omitempty"`
	Fields     []fieldDoc  `yaml:"fields,omitempty"`
	Methods    []methodDoc `yaml:"methods,omitempty"`
}

type fieldDoc struct {
	RID        uint32  `yaml:"rid"`
	Name       string  `yaml:"name"`
	Type       sigType `yaml:"type"`
	Static     bool    `yaml:"static,omitempty"`
	Visibility string  `yaml:"vis"`
}

type methodDoc struct {
	RID        uint32    `yaml:"rid"`
	Name       string    `yaml:"name"`
	Sig        methodSig `yaml:"sig"`
	Virtual    bool      `yaml:"virtual,omitempty"`
	Visibility string    `yaml:"vis"`
	Impl       string    `yaml:"impl,omitempty"`
	Native     string    `yaml:"native,omitempty"` // hex
	Body       *bodyDoc  `yaml:"body,omitempty"`
}

type memberRefDoc struct {
	Type     string    `yaml:"type"`
	Name     string    `yaml:"name"`
	Sig      methodSig `yaml:"sig"`
	Virtual  bool      `yaml:"virtual,omitempty"`
	Assembly string    `yaml:"asm,omitempty"`
}

type sigType struct {
	K string   `yaml:"k"`
	N string   `yaml:"n,omitempty"`
	E *sigType `yaml:"e,omitempty"`
}

type methodSig struct {
	HasThis      bool      `yaml:"this,omitempty"`
	VarArg       bool      `yaml:"vararg,omitempty"`
	GenericArity int       `yaml:"generic,omitempty"`
	Return       sigType   `yaml:"ret"`
	Params       []sigType `yaml:"params,omitempty"`
}

type bodyDoc struct {
	Locals   []sigType    `yaml:"locals,omitempty"`
	Code     []instrDoc   `yaml:"code"`
	Handlers []handlerDoc `yaml:"handlers,omitempty"`
}

// instrDoc carries exactly one operand slot, chosen by opcode.
type instrDoc struct {
	Op   string     `yaml:"op"`
	I    *int64     `yaml:"i,omitempty"`
	S    *string    `yaml:"s,omitempty"`
	Br   *int       `yaml:"br,omitempty"`
	Tok  uint32     `yaml:"tok,omitempty"`
	Sig  *methodSig `yaml:"sig,omitempty"`
	Type *sigType   `yaml:"t,omitempty"`
}

// handlerDoc stores region boundaries as instruction indexes; an end index
// equal to the code length means the end of the body.
type handlerDoc struct {
	Kind         string `yaml:"kind"`
	TryStart     int    `yaml:"try"`
	TryEnd       int    `yaml:"try_end"`
	HandlerStart int    `yaml:"handler"`
	HandlerEnd   int    `yaml:"handler_end"`
	CatchType    string `yaml:"catch,omitempty"`
}
