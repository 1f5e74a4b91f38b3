/*
Package logsink provides per-instance rolling log files for server output.

Each server port gets its own directory of log files, one file per process
run, named after the spawn time in UTC (colons and dots replaced so the
names survive Windows filesystems). Opening a new log prunes the oldest
files so a port's directory never holds more than 10, counting the new one.

Stream wraps a log file as an io.Writer for the child's stdout and stderr.
Output is buffered until a newline and each complete line is written with a
timestamp prefix:

	[2026-03-14T09:26:53.589Z] Server listening on port 7777

A trailing fragment without a newline is flushed as a final line on close.
Write never reports an error to the child; a full disk must not be able to
break the game server's own pipes.

Tail serves the read side: the last 2 MiB of the Nth most recent log,
prefixed with a truncation marker when the file was larger.
*/
package logsink
