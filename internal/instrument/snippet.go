package instrument

import "strings"

const (
	// VersionProperty and OutputDirProperty are declared in the properties
	// block. OutputDirProperty can be overridden with -D on the command line.
	VersionProperty   = "covhook.jacoco.version"
	OutputDirProperty = "covhook.jacoco.outputDirectory"

	defaultOutputDir = "${project.reporting.outputDirectory}/jacoco"
)

func indent(depth int) string {
	return strings.Repeat("    ", depth)
}

// indentLines prefixes every line of block with depth levels of indentation.
func indentLines(block string, depth int) string {
	lines := strings.Split(block, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = indent(depth) + l
		}
	}
	return strings.Join(lines, "\n")
}

func propertyLines(opts Options, depth int) string {
	return indentLines(
		"<"+VersionProperty+">"+opts.Version+"</"+VersionProperty+">\n"+
			"<"+OutputDirProperty+">"+defaultOutputDir+"</"+OutputDirProperty+">",
		depth)
}

// propertiesBlock renders a complete properties element whose opening tag
// is placed by the caller at depth.
func propertiesBlock(opts Options, depth int) string {
	return "<properties>\n" + propertyLines(opts, depth+1) + "\n" + indent(depth) + "</properties>"
}

// executionLines renders the agent and report executions, each opening
// tag at depth.
func executionLines(opts Options, depth int) string {
	formats := make([]string, 0, len(opts.Formats))
	for _, f := range opts.Formats {
		formats = append(formats, indent(3)+"<format>"+strings.ToUpper(f)+"</format>")
	}
	if len(formats) == 0 {
		formats = append(formats, indent(3)+"<format>XML</format>")
	}
	executions := `<execution>
    <id>` + Marker + `</id>
    <goals>
        <goal>prepare-agent</goal>
    </goals>
</execution>
<execution>
    <id>` + ReportExecution + `</id>
    <phase>test</phase>
    <goals>
        <goal>report</goal>
    </goals>
    <configuration>
        <outputDirectory>${` + OutputDirProperty + `}</outputDirectory>
        <formats>
` + strings.Join(formats, "\n") + `
        </formats>
    </configuration>
</execution>`
	return indentLines(executions, depth)
}

func executionsBlock(opts Options, depth int) string {
	return "<executions>\n" + executionLines(opts, depth+1) + "\n" + indent(depth) + "</executions>"
}

func pluginBlock(opts Options, depth int) string {
	plugin := `<plugin>
    <groupId>org.jacoco</groupId>
    <artifactId>` + PluginArtifact + `</artifactId>
    <version>${` + VersionProperty + `}</version>
`
	return indentLines(plugin, depth) + indent(depth+1) + executionsBlock(opts, depth+1) + "\n" + indent(depth) + "</plugin>"
}

func pluginsBlock(opts Options, depth int) string {
	return "<plugins>\n" + pluginBlock(opts, depth+1) + "\n" + indent(depth) + "</plugins>"
}

func buildBlock(opts Options, depth int) string {
	return "<build>\n" + indent(depth+1) + pluginsBlock(opts, depth+1) + "\n" + indent(depth) + "</build>"
}
