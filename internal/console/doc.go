// Package console is the interactive terminal front end. It renders the
// live collection as a table and maps line commands onto controller and
// row editor operations.
package console
