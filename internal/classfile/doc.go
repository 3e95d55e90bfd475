// Package classfile reads and writes JVM class files.
//
// It understands the constant pool, the class header, member tables and
// the attributes the build needs (SourceFile, Module, Code, StackMapTable,
// LineNumberTable, LocalVariableTable, MethodParameters and parameter
// annotations). Unknown attributes are carried as opaque bytes so that a
// parsed class re-encodes byte-for-byte.
package classfile
