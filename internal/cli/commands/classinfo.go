package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/jbuild/internal/classfile"
	"github.com/leapstack-labs/jbuild/internal/classpath"
	"github.com/leapstack-labs/jbuild/internal/cli/output"
	"github.com/leapstack-labs/jbuild/internal/state"
)

// ClassInfoOutput is the JSON output of the classinfo command.
type ClassInfoOutput struct {
	Name       string       `json:"name"`
	Super      string       `json:"super,omitempty"`
	Interfaces []string     `json:"interfaces"`
	Major      int          `json:"major"`
	Release    int          `json:"release"`
	Flags      []string     `json:"flags"`
	SourceFile string       `json:"source_file,omitempty"`
	APIHash    string       `json:"api_hash"`
	Fields     []MemberInfo `json:"fields"`
	Methods    []MemberInfo `json:"methods"`
	Module     *ModuleInfo  `json:"module,omitempty"`
}

// MemberInfo is a field or method.
type MemberInfo struct {
	Name       string   `json:"name"`
	Descriptor string   `json:"descriptor"`
	Flags      []string `json:"flags"`
}

// ModuleInfo is the Module attribute of a module-info class.
type ModuleInfo struct {
	Name     string   `json:"name"`
	Requires []string `json:"requires"`
}

// NewClassInfoCommand creates the classinfo command.
func NewClassInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classinfo <file.class | archive.jar!com/acme/Name>",
		Short: "Describe a compiled class",
		Long: `Print the header, members and API hash of a class file. The API hash
is what jbuild compares to decide whether dependents must be recompiled.`,
		Example: `  jbuild classinfo out/production/app/com/acme/Main.class
  jbuild classinfo libs/guava.jar!com/google/common/base/Strings`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			data, err := readClass(args[0])
			if err != nil {
				return err
			}
			info, err := describeClass(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if cc.Renderer.EffectiveMode() == output.ModeJSON {
				return cc.Renderer.JSON(info)
			}
			renderClassInfo(cc.Renderer, info)
			return nil
		},
	}
}

// readClass reads a class file, or an entry of an archive when the
// argument has the form archive!name.
func readClass(arg string) ([]byte, error) {
	archive, entry, ok := strings.Cut(arg, "!")
	if !ok {
		return os.ReadFile(arg)
	}
	r, err := classpath.NewReader(archive)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	name := strings.TrimSuffix(strings.TrimPrefix(entry, "/"), ".class")
	data, found, err := r.Read(strings.ReplaceAll(name, ".", "/"))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s has no class %s", archive, name)
	}
	return data, nil
}

func describeClass(data []byte) (*ClassInfoOutput, error) {
	c, err := classfile.Parse(data)
	if err != nil {
		return nil, err
	}
	name, err := c.Name()
	if err != nil {
		return nil, err
	}
	super, err := c.SuperName()
	if err != nil {
		return nil, err
	}

	info := &ClassInfoOutput{
		Name:       strings.ReplaceAll(name, "/", "."),
		Super:      strings.ReplaceAll(super, "/", "."),
		Interfaces: []string{},
		Major:      int(c.Major),
		Release:    int(c.Major) - 44,
		Flags:      classFlags(c.Access),
		SourceFile: c.SourceFile(),
		APIHash:    state.APIHash(data),
	}
	for _, idx := range c.Interfaces {
		iface, err := c.Pool.ClassName(idx)
		if err != nil {
			return nil, err
		}
		info.Interfaces = append(info.Interfaces, strings.ReplaceAll(iface, "/", "."))
	}
	if info.Fields, err = members(c, c.Fields); err != nil {
		return nil, err
	}
	if info.Methods, err = members(c, c.Methods); err != nil {
		return nil, err
	}
	if c.Access&classfile.AccModule != 0 {
		md, err := c.Module()
		if err != nil {
			return nil, err
		}
		if md != nil {
			info.Module = &ModuleInfo{Name: md.Name, Requires: md.Requires}
		}
	}
	return info, nil
}

func members(c *classfile.Class, list []*classfile.Member) ([]MemberInfo, error) {
	out := make([]MemberInfo, 0, len(list))
	for _, m := range list {
		name, desc, err := c.MemberName(m)
		if err != nil {
			return nil, err
		}
		out = append(out, MemberInfo{Name: name, Descriptor: desc, Flags: memberFlags(m.Access)})
	}
	return out, nil
}

var accessNames = []struct {
	flag uint16
	name string
}{
	{classfile.AccPublic, "public"},
	{classfile.AccPrivate, "private"},
	{0x0004, "protected"},
	{classfile.AccStatic, "static"},
	{classfile.AccFinal, "final"},
	{classfile.AccAbstract, "abstract"},
	{classfile.AccNative, "native"},
	{classfile.AccSynthetic, "synthetic"},
	{classfile.AccEnum, "enum"},
}

func memberFlags(access uint16) []string {
	flags := []string{}
	for _, a := range accessNames {
		if access&a.flag != 0 {
			flags = append(flags, a.name)
		}
	}
	return flags
}

func classFlags(access uint16) []string {
	flags := []string{}
	for _, a := range []struct {
		flag uint16
		name string
	}{
		{classfile.AccPublic, "public"},
		{classfile.AccFinal, "final"},
		{classfile.AccAbstract, "abstract"},
		{classfile.AccInterface, "interface"},
		{classfile.AccAnnotation, "annotation"},
		{classfile.AccEnum, "enum"},
		{classfile.AccModule, "module"},
		{classfile.AccSynthetic, "synthetic"},
	} {
		if access&a.flag != 0 {
			flags = append(flags, a.name)
		}
	}
	return flags
}

func renderClassInfo(r *output.Renderer, info *ClassInfoOutput) {
	md := r.EffectiveMode() == output.ModeMarkdown
	styles := r.Styles()
	kv := func(key, value string) {
		if value == "" {
			return
		}
		if md {
			r.Println(output.FormatKeyValue(key, value))
			return
		}
		r.Printf("%s %s\n", styles.Muted.Render(key+":"), value)
	}

	r.Header(1, info.Name)
	kv("Flags", strings.Join(info.Flags, " "))
	kv("Super", info.Super)
	kv("Interfaces", strings.Join(info.Interfaces, ", "))
	kv("Version", fmt.Sprintf("%d (Java %d)", info.Major, info.Release))
	kv("Source", info.SourceFile)
	kv("API hash", info.APIHash)
	if info.Module != nil {
		kv("Module", info.Module.Name)
		kv("Requires", strings.Join(info.Module.Requires, ", "))
	}

	section := func(title string, list []MemberInfo) {
		if len(list) == 0 {
			return
		}
		r.Println("")
		if md {
			r.Println(output.FormatHeader(2, title))
		} else {
			r.Println(styles.Header2.Render(title + ":"))
		}
		for _, m := range list {
			line := strings.TrimSpace(strings.Join(m.Flags, " ") + " " + m.Name + " " + m.Descriptor)
			if md {
				r.Printf("- `%s`\n", line)
			} else {
				r.Printf("  %s\n", line)
			}
		}
	}
	section("Fields", info.Fields)
	section("Methods", info.Methods)
}
