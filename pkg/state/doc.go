/*
Package state persists the desired-server set as settings.json.

The desired set is the only state that survives an agent restart. The file
is rewritten in full on every change via a temp-file rename, and a missing
or unparsable file resets to an empty set rather than refusing to start.
Unknown JSON fields are ignored so older agents can read newer files.
*/
package state
